package capture

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"scanbatch/pkg/imgutil"
)

var (
	jpegExifHeader = []byte("Exif\x00\x00")
	jpegXmpHeader  = []byte("http://ns.adobe.com/xap/1.0/\x00")
	jpegPhotoshop  = []byte("Photoshop 3.0\x00")
	jpegICCHeader  = []byte("ICC_PROFILE\x00")
)

// StripMetadata returns a copy of data without EXIF, XMP, Photoshop and
// text metadata. Kinds other than JPEG and PNG are returned unchanged.
func StripMetadata(data []byte, kind imgutil.Kind, preserveICC bool) ([]byte, error) {
	var out bytes.Buffer
	out.Grow(len(data))

	var err error
	switch kind {
	case imgutil.KindJPEG:
		err = stripJPEG(bytes.NewReader(data), &out, preserveICC)
	case imgutil.KindPNG:
		err = stripPNG(bytes.NewReader(data), &out, preserveICC)
	default:
		return data, nil
	}
	if err != nil {
		return nil, fmt.Errorf("strip %s: %w", kind, err)
	}
	return out.Bytes(), nil
}

func stripJPEG(r io.Reader, w io.Writer, preserveICC bool) error {
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)

	soi := make([]byte, 2)
	if _, err := io.ReadFull(br, soi); err != nil {
		return err
	}
	if soi[0] != 0xff || soi[1] != 0xd8 {
		return fmt.Errorf("invalid JPEG SOI")
	}
	if _, err := bw.Write(soi); err != nil {
		return err
	}

	lenBuf := make([]byte, 2)
	for {
		marker, err := nextJPEGMarker(br)
		if err != nil {
			return err
		}

		switch {
		case marker == 0xd9: // EOI
			if _, err := bw.Write([]byte{0xff, 0xd9}); err != nil {
				return err
			}
			return bw.Flush()
		case marker == 0xda: // SOS, entropy-coded data follows
			if _, err := bw.Write([]byte{0xff, marker}); err != nil {
				return err
			}
			if _, err := io.Copy(bw, br); err != nil {
				return err
			}
			return bw.Flush()
		case marker == 0x01 || (marker >= 0xd0 && marker <= 0xd7):
			if _, err := bw.Write([]byte{0xff, marker}); err != nil {
				return err
			}
			continue
		}

		if _, err := io.ReadFull(br, lenBuf); err != nil {
			return err
		}
		segLen := int(binary.BigEndian.Uint16(lenBuf))
		if segLen < 2 {
			return fmt.Errorf("invalid JPEG segment length")
		}
		payload := make([]byte, segLen-2)
		if _, err := io.ReadFull(br, payload); err != nil {
			return err
		}
		if dropJPEGSegment(marker, payload, preserveICC) {
			continue
		}
		for _, part := range [][]byte{{0xff, marker}, lenBuf, payload} {
			if _, err := bw.Write(part); err != nil {
				return err
			}
		}
	}
}

func nextJPEGMarker(br *bufio.Reader) (byte, error) {
	b, err := br.ReadByte()
	for err == nil && b != 0xff {
		b, err = br.ReadByte()
	}
	if err != nil {
		return 0, err
	}
	for b == 0xff {
		if b, err = br.ReadByte(); err != nil {
			return 0, err
		}
	}
	return b, nil
}

func dropJPEGSegment(marker byte, payload []byte, preserveICC bool) bool {
	switch marker {
	case 0xe1:
		return imgutil.HasPrefix(payload, jpegExifHeader) || imgutil.HasPrefix(payload, jpegXmpHeader)
	case 0xed:
		return imgutil.HasPrefix(payload, jpegPhotoshop)
	case 0xe2:
		return !preserveICC && imgutil.HasPrefix(payload, jpegICCHeader)
	}
	return false
}

func stripPNG(r io.Reader, w io.Writer, preserveICC bool) error {
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)

	sig := make([]byte, len(pngSignature))
	if _, err := io.ReadFull(br, sig); err != nil {
		return err
	}
	if !bytes.Equal(sig, pngSignature) {
		return fmt.Errorf("invalid PNG signature")
	}
	if _, err := bw.Write(sig); err != nil {
		return err
	}

	head := make([]byte, 8)
	for {
		if _, err := io.ReadFull(br, head); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		length := int64(binary.BigEndian.Uint32(head[:4]))
		chunk := string(head[4:])

		if dropPNGChunk(chunk, preserveICC) {
			if _, err := io.CopyN(io.Discard, br, length+4); err != nil {
				return err
			}
			continue
		}
		if _, err := bw.Write(head); err != nil {
			return err
		}
		if _, err := io.CopyN(bw, br, length+4); err != nil {
			return err
		}
		if chunk == "IEND" {
			break
		}
	}
	return bw.Flush()
}

func dropPNGChunk(chunk string, preserveICC bool) bool {
	switch chunk {
	case "tEXt", "zTXt", "iTXt", "eXIf", "tIME":
		return true
	case "iCCP":
		return !preserveICC
	}
	return false
}
