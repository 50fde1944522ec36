package upload

// Parts splits fileSize bytes into consecutive parts of partSize bytes.
// Every part but the last is exactly partSize long; a size that is an exact multiple of partSize
// ends with a full part. An empty file has no parts.
func Parts(fileSize, partSize int64) []PartSpec {
	if fileSize <= 0 || partSize <= 0 {
		return nil
	}

	count := PartCount(fileSize, partSize)
	parts := make([]PartSpec, 0, count)
	for offset, number := int64(0), 1; offset < fileSize; number++ {
		length := partSize
		if remaining := fileSize - offset; remaining < length {
			length = remaining
		}
		parts = append(parts, PartSpec{Number: number, Offset: offset, Length: length})
		offset += length
	}
	return parts
}

// PartCount returns the number of parts Parts would produce.
func PartCount(fileSize, partSize int64) int {
	if fileSize <= 0 || partSize <= 0 {
		return 0
	}
	return int((fileSize + partSize - 1) / partSize)
}
