package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionStrings(t *testing.T) {
	v, c := Version, Commit
	t.Cleanup(func() { Version, Commit = v, c })

	Version, Commit = "1.2.0", "abc1234"
	assert.Equal(t, "1.2.0 (abc1234)", FullVersion())
	assert.Equal(t, "closet-nfc/1.2.0", UserAgent())
	assert.False(t, IsDev())
	assert.Contains(t, String(), "closet-nfc 1.2.0 (abc1234)")
	assert.Contains(t, String(), "OS/Arch:")

	Version = "dev"
	assert.True(t, IsDev())
}
