package tls

import (
	"net/http"

	"github.com/dotside-studios/closet-nfc/buildinfo"
)

// CAHandler serves the CA certificate so phones can install it before
// opening the scanning page.
func (m *Manager) CAHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pem, err := m.ReadCACert()
		if err != nil {
			http.Error(w, "CA certificate not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/x-pem-file")
		w.Header().Set("Content-Disposition", `attachment; filename="`+buildinfo.Name+`-ca.pem"`)
		w.Write(pem)
		m.logger.Printf("CA certificate downloaded by %s", r.RemoteAddr)
	})
}
