package store

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// contentCompression names the codec a task_messages.content blob was
// stored with. Compression is transparent to every caller of the store API:
// content always round-trips to exactly the bytes createTaskMessage was
// given.
type contentCompression string

const (
	compressionNone contentCompression = "none"
	compressionZstd contentCompression = "zstd"
)

// zstdMinSize is the smallest payload worth paying zstd's frame overhead
// for; shorter messages are stored raw.
const zstdMinSize = 256

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("msgcodec: init zstd encoder: %v", err))
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("msgcodec: init zstd decoder: %v", err))
	}
}

// encodeContent compresses data when it's large enough to benefit, and
// reports which codec was used so it can be recorded alongside the bytes.
func encodeContent(data []byte) ([]byte, contentCompression) {
	if len(data) < zstdMinSize {
		return data, compressionNone
	}
	compressed := zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	return compressed, compressionZstd
}

// decodeContent reverses encodeContent.
func decodeContent(data []byte, compression contentCompression) ([]byte, error) {
	switch compression {
	case compressionZstd:
		return zstdDecoder.DecodeAll(data, nil)
	case compressionNone, "":
		return data, nil
	default:
		return nil, fmt.Errorf("msgcodec: unsupported compression %q", compression)
	}
}
