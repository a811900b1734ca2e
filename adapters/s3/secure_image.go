package s3

import (
	"errors"
	"net/http"
)

var ErrUnsupportedImage = errors.New("unsupported image type")

// secureImageExtensions 允許上傳的圖片類型及其副檔名
var secureImageExtensions = map[string]string{
	"image/jpeg": "jpeg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// CheckSecureImageAndGetExtension 檢查 MIME 類型是否為允許的圖片類型，並回傳對應的副檔名
func CheckSecureImageAndGetExtension(mimeType string) (bool, string) {
	ext, ok := secureImageExtensions[mimeType]
	return ok, ext
}

// DetectImage 依檔案內容判斷圖片類型，不信任客戶端宣告的 Content-Type
func DetectImage(content []byte) (mimeType, ext string, err error) {
	mimeType = http.DetectContentType(content)
	ok, ext := CheckSecureImageAndGetExtension(mimeType)
	if !ok {
		return mimeType, "", ErrUnsupportedImage
	}
	return mimeType, ext, nil
}
