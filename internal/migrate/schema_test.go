package migrate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatementsAreIdempotent(t *testing.T) {
	require.NotEmpty(t, Statements)
	for _, s := range Statements {
		require.True(t, strings.HasPrefix(s, "CREATE INDEX IF NOT EXISTS "), s)
	}
}
