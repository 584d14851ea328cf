package capture

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	exif "github.com/dsoprea/go-exif/v3"

	"scanbatch/pkg/imgutil"
)

// Info is what the capturing device recorded about a page.
type Info struct {
	Device      string
	Captured    string
	Orientation int
	HasGPS      bool
	SerialCount int
}

// Labels renders the info as page labels, omitting empty values.
func (i Info) Labels() map[string]string {
	labels := map[string]string{}
	if i.Device != "" {
		labels["device"] = i.Device
	}
	if i.Captured != "" {
		labels["captured"] = i.Captured
	}
	if i.Orientation > 1 {
		labels["orientation"] = strconv.Itoa(i.Orientation)
	}
	if i.HasGPS {
		labels["gps"] = "true"
	}
	return labels
}

// ReadInfo extracts capture metadata from an encoded image. Images without
// metadata yield a zero Info and no error.
func ReadInfo(data []byte, kind imgutil.Kind) (Info, error) {
	switch kind {
	case imgutil.KindJPEG, imgutil.KindTIFF:
		return readExif(bytes.NewReader(data))
	case imgutil.KindPNG:
		return readPNGText(bytes.NewReader(data))
	default:
		return Info{}, nil
	}
}

func readExif(rs io.ReadSeeker) (Info, error) {
	info := Info{Orientation: 1}

	tags, _, err := exif.GetFlatExifDataUniversalSearchWithReadSeeker(rs, nil, true)
	if err != nil {
		if isNoExif(err) {
			return info, nil
		}
		return info, fmt.Errorf("read exif: %w", err)
	}

	var maker, model string
	orientationSeen := false
	for _, tag := range tags {
		name := tag.TagName
		switch {
		case strings.HasPrefix(name, "GPS") || strings.Contains(tag.IfdPath, "GPS"):
			info.HasGPS = true
		case name == "Make":
			maker = strings.TrimSpace(tag.FormattedFirst)
		case name == "Model" || name == "CameraModelName":
			model = strings.TrimSpace(tag.FormattedFirst)
		case name == "DateTimeOriginal":
			info.Captured = tag.FormattedFirst
		case (name == "DateTimeDigitized" || name == "DateTime") && info.Captured == "":
			info.Captured = tag.FormattedFirst
		case name == "Orientation" && !orientationSeen:
			orientationSeen = true
			if o, err := strconv.Atoi(strings.TrimSpace(tag.FormattedFirst)); err == nil && o >= 1 && o <= 8 {
				info.Orientation = o
			}
		}
		if strings.Contains(strings.ToLower(name), "serial") {
			info.SerialCount++
		}
	}
	info.Device = strings.TrimSpace(maker + " " + model)
	return info, nil
}

func isNoExif(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "no exif")
}

var pngSignature = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}

// readPNGText walks PNG chunks for tEXt keys and the tIME chunk.
func readPNGText(r io.Reader) (Info, error) {
	info := Info{Orientation: 1}
	br := bufio.NewReader(r)

	sig := make([]byte, len(pngSignature))
	if _, err := io.ReadFull(br, sig); err != nil {
		return info, err
	}
	if !bytes.Equal(sig, pngSignature) {
		return info, errors.New("invalid PNG signature")
	}

	head := make([]byte, 8)
	for {
		if _, err := io.ReadFull(br, head); err != nil {
			if errors.Is(err, io.EOF) {
				return info, nil
			}
			return info, err
		}
		length := int64(binary.BigEndian.Uint32(head[:4]))
		chunk := string(head[4:])

		switch chunk {
		case "tEXt":
			data := make([]byte, length)
			if _, err := io.ReadFull(br, data); err != nil {
				return info, err
			}
			if _, err := br.Discard(4); err != nil {
				return info, err
			}
			applyPNGText(&info, data)
		case "tIME":
			data := make([]byte, length)
			if _, err := io.ReadFull(br, data); err != nil {
				return info, err
			}
			if _, err := br.Discard(4); err != nil {
				return info, err
			}
			if len(data) == 7 && info.Captured == "" {
				info.Captured = fmt.Sprintf("%04d:%02d:%02d %02d:%02d:%02d",
					binary.BigEndian.Uint16(data[:2]), data[2], data[3], data[4], data[5], data[6])
			}
		default:
			if _, err := io.CopyN(io.Discard, br, length+4); err != nil {
				return info, err
			}
		}

		if chunk == "IEND" {
			return info, nil
		}
	}
}

func applyPNGText(info *Info, data []byte) {
	idx := bytes.IndexByte(data, 0)
	if idx <= 0 {
		return
	}
	key := strings.ToLower(string(data[:idx]))
	value := strings.TrimSpace(string(data[idx+1:]))

	switch {
	case strings.Contains(key, "gps") || strings.Contains(key, "latitude") || strings.Contains(key, "longitude"):
		info.HasGPS = true
	case strings.Contains(key, "model") || strings.Contains(key, "make"):
		if info.Device == "" {
			info.Device = value
		} else {
			info.Device += " " + value
		}
	case strings.Contains(key, "creation time"):
		info.Captured = value
	}
}
