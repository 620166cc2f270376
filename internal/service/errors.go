package service

import "errors"

// 服務層的業務錯誤
// 版本衝突是並發編輯下的正常情況，由客戶端重新同步解決，不記錄為錯誤
var (
	ErrRoomNotFound       = errors.New("房間不存在")
	ErrRoomClosed         = errors.New("房間已關閉")
	ErrVersionConflict    = errors.New("版本衝突")
	ErrStorageUnavailable = errors.New("儲存服務暫時無法使用，請重試")
	ErrUnauthorized       = errors.New("未加入此房間")
	ErrNotRequestOwner    = errors.New("只能取消自己的執行請求")
	ErrRequestNotFound    = errors.New("執行請求不存在")
	ErrUnsupportedLang    = errors.New("不支援的程式語言")
)
