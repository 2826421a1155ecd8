package p2p

import (
	"github.com/klauspost/compress/zstd"
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(1<<20))
)

// CompressTx compresses raw transaction bytes for a remember_tx payload.
func CompressTx(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, nil)
}

// DecompressTx decompresses a remember_tx transaction payload. If the data
// does not start with the zstd magic bytes, it is returned as-is for forward
// compatibility with peers sending uncompressed transactions.
func DecompressTx(data []byte) ([]byte, error) {
	if len(data) < 4 || data[0] != 0x28 || data[1] != 0xB5 || data[2] != 0x2F || data[3] != 0xFD {
		return data, nil
	}
	return zstdDecoder.DecodeAll(data, nil)
}
