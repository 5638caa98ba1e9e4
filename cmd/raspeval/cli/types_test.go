package cli_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-raspeval/cmd/raspeval/cli"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    uintptr
		wantErr bool
	}{
		{in: "0", want: 0},
		{in: "0x0", want: 0},
		{in: "4096", want: 4096},
		{in: "0x7ffd1000", want: 0x7ffd1000},
		{in: "0XFF", want: 0xff},
		{in: "", wantErr: true},
		{in: "0x", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "0xzz", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			a, err := cli.ParseAddress(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.False(t, a.Set)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.Value)
			assert.True(t, a.Set)
		})
	}
}

func TestAddressString(t *testing.T) {
	assert.Equal(t, "0x1000", cli.Address{Value: 0x1000}.String())
	assert.Equal(t, "0x0", cli.Address{}.String())
}

func TestParseDBPath(t *testing.T) {
	p, err := cli.ParseDBPath("/tmp/x/../raspeval.db")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/raspeval.db", p.Path)

	_, err = cli.ParseDBPath("")
	require.Error(t, err)

	_, err = cli.ParseDBPath("/tmp/db/")
	require.Error(t, err)
}
