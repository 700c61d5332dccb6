package nips

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToHexNIP19Vectors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		hrp   string
		want  string
	}{
		{
			name:  "npub",
			input: "npub180cvv07tjdrrgpa0j7j7tmnyl2yr6yr7l8j4s3evf6u64th6gkwsyjh6w6",
			hrp:   "npub",
			want:  "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d",
		},
		{
			name:  "nsec",
			input: "nsec1vl029mgpspedva04g90vltkh6fvh240zqtv9k0t9af8935ke9laqsnlfe5",
			hrp:   "nsec",
			want:  "67dea2ed018072d675f5415ecfaed7d2597555e202d85b3d65ea4e58d2d92ffa",
		},
		{
			name:  "hex passthrough",
			input: "3BF0C63FCB93463407AF97A5E5EE64FA883D107EF9E558472C4EB9AAAEFA459D",
			hrp:   "npub",
			want:  "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToHex(tt.input, tt.hrp)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	hexID := "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"
	note, err := Encode("note", hexID)
	require.NoError(t, err)

	back, err := ToHex(note, "note")
	require.NoError(t, err)
	require.Equal(t, hexID, back)

	_, err = ToHex(note, "npub")
	require.ErrorIs(t, err, ErrWrongPrefix)
}

func TestBech32DecodeRejectsBadChecksum(t *testing.T) {
	_, _, err := Bech32Decode("npub180cvv07tjdrrgpa0j7j7tmnyl2yr6yr7l8j4s3evf6u64th6gkwsyjh6w7")
	require.ErrorIs(t, err, ErrInvalidBech32)
}
