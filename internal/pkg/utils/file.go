package utils

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

//SupportAudioExt checks if audio ext is supported
func SupportAudioExt(ext string) bool {
	switch ext {
	case ".wav", ".mp3", ".mp4", ".m4a", ".ogg", ".webm", ".flac":
		return true
	}
	return false
}

// MakeValidateFileName drops dirs from the name, lowercases the extension, replaces spaces
// and prefixes the result with ID dir
func MakeValidateFileName(ID, fileName string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		return "", fmt.Errorf("wrong file name '%s'", fileName)
	}
	ext := filepath.Ext(base)
	res := strings.TrimSuffix(base, ext) + strings.ToLower(ext)
	res = strings.ReplaceAll(res, " ", "_")
	if strings.HasPrefix(res, ".") {
		return "", fmt.Errorf("wrong file name '%s'", fileName)
	}
	if ID == "" {
		return res, nil
	}
	return path.Join(ID, res), nil
}

// ParamTrue - returns true if string param indicates true value
func ParamTrue(prm string) bool {
	return strings.ToLower(prm) == "true" || prm == "1"
}
