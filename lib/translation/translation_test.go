package translation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTranslateFallsBackToMessageID(t *testing.T) {
	Configure(t.TempDir(), "en_US.UTF-8")

	require.Equal(t, "en", GetLanguage())
	require.Equal(t, "Invalid symbols BTC CHF", Translate("Invalid symbols %s %s", "BTC", "CHF"))
	require.Equal(t, "Done.", Translate("Done."))
}
