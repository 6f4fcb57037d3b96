package domain

// GenerationRequest はセルフィーとポーズ画像から1枚の合成写真を作る要求です。
// 作成後は変更しません。Selfie はゼロ値を許容します（本人確認は行われません）。
type GenerationRequest struct {
	Selfie     ImageRef
	Pose       ImageRef
	BasePrompt string
}

// PersonMatch は生成画像とセルフィーの人物比較結果です。
type PersonMatch struct {
	IsSamePerson bool    `json:"isSamePerson"`
	Confidence   float64 `json:"confidence"` // 常に [0,1]
	Reason       string  `json:"reason,omitempty"`
}

// ValidationResult は生成画像の検証結果です。
// セルフィーが無い場合 PersonMatch は nil です。
// 一方の判定だけが失敗した場合は、完了した判定だけを持つ部分的な結果になります。
// コラージュ判定が完了していなければ CollageUnknown が true です。
type ValidationResult struct {
	IsCollage      bool         `json:"isCollage"`
	CollageReason  string       `json:"collageReason,omitempty"`
	CollageUnknown bool         `json:"collageUnknown,omitempty"`
	PersonMatch    *PersonMatch `json:"personMatch,omitempty"`
}

// HasVerdict は少なくとも1つの判定が完了しているかを返します。
func (v ValidationResult) HasVerdict() bool {
	return !v.CollageUnknown || v.PersonMatch != nil
}

// Accepts は閾値に照らして生成画像を採用できるかを判定します。
func (v ValidationResult) Accepts(threshold float64) bool {
	if v.IsCollage || v.CollageUnknown {
		return false
	}
	if v.PersonMatch == nil {
		return true
	}
	return v.PersonMatch.IsSamePerson && v.PersonMatch.Confidence >= threshold
}

// PoseDescription はポーズ画像から得たテキスト記述です。1回の実行の間だけ保持します。
type PoseDescription struct {
	Text string
}

// GenerationAttempt は「生成→検証」1サイクルの記録です。完了後は変更しません。
// 検証の一方だけが失敗した場合は Validation と Err の両方が入ります。
type GenerationAttempt struct {
	AttemptNumber int               `json:"attemptNumber"`
	UsedPoseImage bool              `json:"usedPoseImage"`
	PromptUsed    string            `json:"promptUsed"`
	ResultImage   *ImageRef         `json:"-"`
	Validation    *ValidationResult `json:"validation,omitempty"`
	Err           *ErrorKind        `json:"error,omitempty"`
}

// GenerationOutcome は1回の実行につき1つだけ返される終端結果です。
// Reason が空なら成功で、Image に生成画像が入ります。
type GenerationOutcome struct {
	RunID    string
	Image    *ImageRef
	Reason   ErrorKind
	Attempts []GenerationAttempt
}

// Succeeded は成功した結果かどうかを返します。
func (o GenerationOutcome) Succeeded() bool {
	return o.Reason == "" && o.Image != nil
}

// EditRequest は画像編集エンドポイントへの要求です。
// Image が編集元、References は追加の参照画像（1回目の試行ではポーズ画像）です。
// Image がゼロ値の場合はプロンプトだけから画像を生成します（セルフィーの無い再生成）。
type EditRequest struct {
	Prompt     string
	Image      ImageRef
	References []ImageRef
}

// VisionRequest は画像理解エンドポイントへの要求です。
// ExpectJSON はプロンプトが JSON オブジェクトでの回答を求めていることを示すヒントです。
type VisionRequest struct {
	Prompt     string
	Images     []ImageRef
	ExpectJSON bool
}
