package session

// Code is a stable, machine-readable error code (§7). The core never
// surfaces raw lower-layer error text to the client.
type Code string

const (
	CodeDecodeError          Code = "DECODE_ERROR"
	CodeInvalidAudio         Code = "INVALID_AUDIO"
	CodeASRFailed            Code = "ASR_FAILED"
	CodeSegmentationFailed   Code = "SEGMENTATION_FAILED"
	CodeSpeakerNotFound      Code = "SPEAKER_NOT_FOUND"
	CodeSpeakerAlreadyExists Code = "SPEAKER_ALREADY_EXISTS"
	CodePINNotSet            Code = "PIN_NOT_SET"
	CodeMaxRetriesExceeded   Code = "MAX_RETRIES_EXCEEDED"
	CodeTimeout              Code = "TIMEOUT"
	CodeInternalError        Code = "INTERNAL_ERROR"
	CodeInvalidPIN           Code = "INVALID_PIN"
)

// japaneseMessages carries the reference locale's human-readable text
// for each code (§7: "reference locale: Japanese").
var japaneseMessages = map[Code]string{
	CodeDecodeError:          "音声データを解析できませんでした",
	CodeInvalidAudio:         "有効な発話が検出できませんでした",
	CodeASRFailed:            "音声認識に失敗しました",
	CodeSegmentationFailed:   "発話内容が一致しませんでした",
	CodeSpeakerNotFound:      "指定されたスピーカーが見つかりません",
	CodeSpeakerAlreadyExists: "このIDは既に登録されています",
	CodePINNotSet:            "PINが設定されていません",
	CodeMaxRetriesExceeded:   "再試行回数の上限を超えました",
	CodeTimeout:              "セッションがタイムアウトしました",
	CodeInternalError:        "内部エラーが発生しました",
	CodeInvalidPIN:           "PINは4桁の数字で入力してください",
}

// Message returns the Japanese human-readable text for code.
func (c Code) Message() string {
	if m, ok := japaneseMessages[c]; ok {
		return m
	}
	return "エラーが発生しました"
}

// SessionError reports that a session ended by sending a terminal
// `error` frame (§7) rather than completing its state machine
// normally. sendFatal always returns one of these (or the I/O error
// itself instead, if the frame/close failed) so callers —
// Runtime.Serve's metrics bracketing included — can tell a fatal
// session outcome apart from success without re-deriving it from a
// nil error.
type SessionError struct {
	Code Code
}

func (e *SessionError) Error() string {
	return "session: " + string(e.Code)
}
