package compress

const (
	aggressiveResize  = 0.8
	aggressiveQuality = 0.9
)

var strategies = map[ContentType]Strategy{
	ContentTextHeavy:  {ResizeRatio: 0.85, EncodeQuality: 95, PreserveSharpness: true, TargetFormat: PixelLossless},
	ContentPhotoHeavy: {ResizeRatio: 0.75, EncodeQuality: 85, PreserveSharpness: false, TargetFormat: PixelLossy},
	ContentDocument:   {ResizeRatio: 0.90, EncodeQuality: 90, PreserveSharpness: true, TargetFormat: PixelLossy},
	ContentMixed:      {ResizeRatio: 0.80, EncodeQuality: 88, PreserveSharpness: true, TargetFormat: PixelLossy},
}

// SelectStrategy maps a classification to compression parameters.
func SelectStrategy(a Analysis, settings Settings) Strategy {
	s, ok := strategies[a.ContentType]
	if !ok {
		s = strategies[ContentMixed]
	}
	if settings.AggressiveMode {
		s.ResizeRatio *= aggressiveResize
		s.EncodeQuality = int(float64(s.EncodeQuality) * aggressiveQuality)
	}
	return s
}
