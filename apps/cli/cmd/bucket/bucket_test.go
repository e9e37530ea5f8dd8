package bucket

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTags(t *testing.T) {
	tags, err := parseTags([]string{"Application=DappBot", "owner=a@x.com", "empty="})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"Application": "DappBot", "owner": "a@x.com", "empty": ""}, tags)

	_, err = parseTags([]string{"novalue"})
	require.ErrorContains(t, err, "invalid tag")

	_, err = parseTags([]string{"=x"})
	require.Error(t, err)
}

func TestCommandRegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range Command().Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"empty", "delete", "website", "cors", "public", "tag", "no-cache"} {
		require.True(t, names[want], want)
	}
}
