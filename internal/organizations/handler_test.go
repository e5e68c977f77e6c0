package organizations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeOrigin(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://kda.example.org", "https://kda.example.org"},
		{"https://KDA.example.org/register/", "https://kda.example.org"},
		{" http://localhost:3000 ", "http://localhost:3000"},
	}
	for _, tc := range cases {
		got, err := NormalizeOrigin(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}

	for _, bad := range []string{"", "kda.example.org", "ftp://kda.example.org", "https://"} {
		_, err := NormalizeOrigin(bad)
		assert.Error(t, err, bad)
	}
}
