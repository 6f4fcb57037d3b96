package generator

import "strings"

// collagePrompt は生成画像がコラージュかどうかを判定させる指示です。
const collagePrompt = `You are checking the output of an image generator.
Look at the image and decide whether it is a collage: several photos or panels combined into one frame,
a split screen, a side-by-side comparison, a grid, or a picture-in-picture inset.
A single continuous photograph of one scene is NOT a collage.

Reply with exactly one JSON object and nothing else:
{"isCollage": true or false, "reason": "short explanation"}`

// personMatchPrompt は2枚の画像の人物が同一かどうかを判定させる指示です。
// 1枚目がセルフィー、2枚目が生成画像です。
const personMatchPrompt = `Compare the person in the first image (a reference selfie) with the person in the second image.
Decide whether they are the same individual, judging by facial structure, skin tone, hair and other stable features.
Ignore differences in pose, clothing, lighting, background and camera angle.

Confidence guidance: 0.8 or higher when clearly the same person, 0.5 to 0.8 when probably the same person,
below 0.5 when probably or clearly a different person.

Reply with exactly one JSON object and nothing else:
{"isSamePerson": true or false, "confidence": number between 0 and 1, "reason": "short explanation"}
If no person is visible in either image, reply {"noPersonDetected": true}.`

// describePrompt はポーズ画像を文章で説明させる指示です。人物の特定につながる情報は含めません。
const describePrompt = `Describe this photo in one paragraph so that another photographer could recreate it with a different person.
Cover the body position and pose (limbs, head tilt, weight, gesture), the outfit, the setting and background,
the lighting, and the camera framing and angle.
Do not describe the person's identity: no face shape, age, ethnicity, hair color or any other identifying trait.
Write plain prose only. Do not use lists, headings, markdown, JSON or quotation marks.`

// posePrompt は1回目の試行のプロンプトです。セルフィーがある場合は画像の役割を補足します。
func posePrompt(basePrompt string, hasSelfie bool) string {
	base := strings.TrimSpace(basePrompt)
	if !hasSelfie {
		return base
	}
	return base + "\n\nThe first image shows the person. The second image shows the pose, outfit and scene to reproduce. " +
		"Produce one single photograph of the person from the first image, not a collage."
}

// fallbackPrompt はポーズ画像の代わりに記述テキストを使う2回目の試行のプロンプトです。
// セルフィーが無い場合は画像を送らないため、記述だけから撮影させます。
func fallbackPrompt(basePrompt, description string, hasSelfie bool) string {
	lead := "Photograph this scene: "
	if hasSelfie {
		lead = "Recreate this scene with the person in the image: "
	}
	return strings.TrimSpace(basePrompt) + "\n\n" + lead + description +
		"\nProduce one single photograph, not a collage."
}
