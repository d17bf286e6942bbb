package colorconv

// RGBToYUV maps an 8-bit RGB triple to BT.601 limited-range YCbCr.
// Used to synthesize camera frames; YUV420ToARGB inverts it within rounding.
func RGBToYUV(r, g, b uint8) (y, u, v uint8) {
	R, G, B := int(r), int(g), int(b)
	Y := ((66*R + 129*G + 25*B + 128) >> 8) + 16
	U := ((-38*R - 74*G + 112*B + 128) >> 8) + 128
	V := ((112*R - 94*G - 18*B + 128) >> 8) + 128
	return clampByte(Y), clampByte(U), clampByte(V)
}

func clampByte(c int) uint8 {
	if c < 0 {
		return 0
	}
	if c > 255 {
		return 255
	}
	return uint8(c)
}
