// Package decrypt recovers playable bytes from the striped stream cipher used by
// the catalog service.
//
// The stream is cut into 2048 byte chunks. Every third full-size chunk, starting
// with the first, is Blowfish-CBC encrypted on its own with the same IV; every
// other chunk is plaintext. Chunks are never chained to each other.
package decrypt

import (
	"crypto/cipher"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/italolelis/track_downloader/internal/media"
	"golang.org/x/crypto/blowfish"
)

const (
	// ChunkSize is the stripe length in bytes.
	ChunkSize = 2048
	// Stride selects every Stride-th chunk for decryption.
	Stride = 3

	SecretSize = 16
	IVSize     = blowfish.BlockSize
	KeySize    = 16
)

// Decryptor holds the fixed secret and IV of the cipher scheme. It has no mutable
// state and is safe for concurrent use.
type Decryptor struct {
	secret [SecretSize]byte
	iv     [IVSize]byte
}

// New builds a Decryptor from the 16 byte secret and the 8 byte IV.
func New(secret, iv []byte) (*Decryptor, error) {
	if len(secret) != SecretSize {
		return nil, fmt.Errorf("secret must be %d bytes, got %d", SecretSize, len(secret))
	}

	if len(iv) != IVSize {
		return nil, fmt.Errorf("iv must be %d bytes, got %d", IVSize, len(iv))
	}

	d := &Decryptor{}
	copy(d.secret[:], secret)
	copy(d.iv[:], iv)

	return d, nil
}

// DeriveKey computes the per-item key: the hex form of md5(decimal id) folded
// onto itself and XORed with the secret.
func (d *Decryptor) DeriveKey(id media.ContentID) [KeySize]byte {
	sum := md5.Sum([]byte(id.String()))

	var h [2 * md5.Size]byte
	hex.Encode(h[:], sum[:])

	var key [KeySize]byte
	for i := range key {
		key[i] = h[i] ^ h[i+KeySize] ^ d.secret[i]
	}

	return key
}

// Selected reports whether chunk n of the given length is encrypted.
func Selected(n, length int) bool {
	return n%Stride == 0 && length == ChunkSize
}

// Decrypt returns the plaintext of blob. The output has the same length and
// chunk order as the input; blob is left untouched.
func (d *Decryptor) Decrypt(id media.ContentID, blob []byte) ([]byte, error) {
	key := d.DeriveKey(id)

	block, err := blowfish.NewCipher(key[:])
	if err != nil {
		return nil, &media.CryptoError{ContentID: id, Reason: "invalid key", Err: err}
	}

	out := make([]byte, len(blob))

	for n, off := 0, 0; off < len(blob); n, off = n+1, off+ChunkSize {
		end := min(off+ChunkSize, len(blob))
		chunk := blob[off:end]

		if !Selected(n, len(chunk)) {
			copy(out[off:end], chunk)

			continue
		}

		if err := d.decryptChunk(block, out[off:end], chunk); err != nil {
			return nil, &media.CryptoError{ContentID: id, Chunk: n, Reason: err.Error(), Err: err}
		}
	}

	return out, nil
}

// decryptChunk runs a fresh CBC decrypter over one stripe so the IV is never
// carried over from the previous stripe.
func (d *Decryptor) decryptChunk(block cipher.Block, dst, src []byte) error {
	if len(src)%block.BlockSize() != 0 {
		return media.ErrMalformedBlock
	}

	cipher.NewCBCDecrypter(block, d.iv[:]).CryptBlocks(dst, src)

	return nil
}
