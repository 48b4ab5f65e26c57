package closet

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dotside-studios/closet-nfc/nfc"
)

const (
	// MaxLookupCodes caps the codes searched in one batch.
	MaxLookupCodes = 50

	// pointQueryLimit is the batch size at or below which codes are looked up
	// one by one instead of with IN queries.
	pointQueryLimit = 10

	lookupChunkSize = 20
)

var codeSeparators = regexp.MustCompile(`[/,\n\r\t; ]+`)

// ParseCodes splits scanner or keyboard input into codes. It drops empty
// codes and keeps at most MaxLookupCodes, reporting whether any were cut.
func ParseCodes(input string) (codes []string, truncated bool) {
	for _, c := range codeSeparators.Split(input, -1) {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, c)
		}
	}
	if len(codes) > MaxLookupCodes {
		return codes[:MaxLookupCodes], true
	}
	return codes, false
}

// BatchLookup finds the garments matching any of the codes in input, by
// NFC tag or barcode. Both kinds of query run concurrently.
func (c *Catalog) BatchLookup(ctx context.Context, input string) (*LookupResult, error) {
	res, err := c.batchLookup(ctx, input)
	c.observe("batch", res != nil && len(res.Garments) > 0, err)
	return res, err
}

func (c *Catalog) batchLookup(ctx context.Context, input string) (*LookupResult, error) {
	codes, truncated := ParseCodes(input)
	if len(codes) == 0 {
		return nil, errors.New("no codes to look up")
	}

	nfcCodes := make([]string, len(codes))
	for i, code := range codes {
		nfcCodes[i] = nfc.Normalize(code)
	}

	// Each query writes its own slot so the merge sees a stable order.
	var byNFC, byCode [][]Garment

	g, gctx := errgroup.WithContext(ctx)
	if len(codes) <= pointQueryLimit {
		byNFC = make([][]Garment, len(codes))
		byCode = make([][]Garment, len(codes))
		for i := range codes {
			g.Go(func() error {
				return c.pointLookup(gctx, c.store.GarmentByNFCTag, nfcCodes[i], &byNFC[i])
			})
			g.Go(func() error {
				return c.pointLookup(gctx, c.store.GarmentByBarcode, codes[i], &byCode[i])
			})
		}
	} else {
		chunks := (len(codes) + lookupChunkSize - 1) / lookupChunkSize
		byNFC = make([][]Garment, chunks)
		byCode = make([][]Garment, chunks)
		for n := range chunks {
			start := n * lookupChunkSize
			end := min(start+lookupChunkSize, len(codes))
			g.Go(func() error {
				gs, err := c.store.GarmentsByNFCTags(gctx, nfcCodes[start:end])
				byNFC[n] = gs
				return err
			})
			g.Go(func() error {
				gs, err := c.store.GarmentsByBarcodes(gctx, codes[start:end])
				byCode[n] = gs
				return err
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return mergeLookup(codes, nfcCodes, truncated, slices.Concat(byNFC...), slices.Concat(byCode...)), nil
}

func (c *Catalog) pointLookup(ctx context.Context, find func(context.Context, string) (*Garment, error), code string, dst *[]Garment) error {
	gm, err := find(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	*dst = []Garment{*gm}
	return nil
}

// mergeLookup dedupes garments by ID, NFC matches first, and works out which
// of the searched codes matched nothing.
func mergeLookup(codes, nfcCodes []string, truncated bool, byNFC, byCode []Garment) *LookupResult {
	res := &LookupResult{Searched: len(codes), Truncated: truncated, Garments: []Garment{}, NotFound: []string{}}

	seen := make(map[string]bool)
	matchedTags := make(map[string]bool)
	matchedBarcodes := make(map[string]bool)
	for _, gm := range slices.Concat(byNFC, byCode) {
		if tag := deref(gm.NFCTagID); tag != "" {
			matchedTags[tag] = true
		}
		if bc := deref(gm.BarcodeID); bc != "" {
			matchedBarcodes[bc] = true
		}
		if seen[gm.ID] {
			continue
		}
		seen[gm.ID] = true
		res.Garments = append(res.Garments, gm)
		if gm.Status == StatusInUse {
			res.InUse++
		}
	}

	for i, code := range codes {
		if !matchedTags[nfcCodes[i]] && !matchedBarcodes[code] {
			res.NotFound = append(res.NotFound, code)
		}
	}
	return res
}
