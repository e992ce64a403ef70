package studio

import (
	"fmt"
	"strings"
)

// Branch intents. Anything outside this set is treated as a generic named
// focus ("make it warmer", "angle", ...).
const (
	IntentRandomPose    = "random pose"
	IntentSwapClothing  = "swap-clothing"
	IntentStyleTransfer = "style-transfer"
	IntentCameraView    = "camera-view"
	IntentCustom        = "custom"
	IntentDirector      = "director-mode"
	IntentAngle         = "angle"
)

// Node labels derived from intent.
const (
	labelCameraView = "CAMERA VIEW"
	labelDirector   = "DIRECTOR"
	labelGenerating = "GENERATING..."
)

// fallbackPose is used when the pose sub-call fails.
const fallbackPose = "A dynamic, random fashion pose."

// Prompt-enhancement length thresholds. Short instructions get expanded by a
// text sub-call before the main generation.
const (
	enhanceThresholdCustom  = 100
	enhanceThresholdRefPair = 50
	enhanceThresholdSeed    = 80
)

// angleDirectives is the fixed menu the angle tool samples from.
var angleDirectives = []string{
	"Cinematic Low-Angle Heroic Shot, looking up at the subject to emphasize presence.",
	"Dramatic Bird's Eye View, perfectly top-down symmetrical composition.",
	"Tilted Dutch Angle (15 degrees), establishing stylistic tension and fashion edge.",
	"Extreme High-Angle Shot, looking down from above for a sophisticated editorial perspective.",
	"Low-level Worm's Eye View, shot from ground-level looking up towers of fabric.",
	"Three-quarter cinematic profile shot, emphasizing depth and silhouette.",
	"Over-the-shoulder depth shot focusing on the relationship with the background.",
	"Close-up Macro shot focusing purely on fabric texture and light interaction.",
}

// labelFor maps an intent to the node label shown on the canvas.
func labelFor(intent string) string {
	switch intent {
	case IntentCameraView:
		return labelCameraView
	case IntentDirector:
		return labelDirector
	default:
		return strings.ToUpper(intent)
	}
}

// displayPromptFor fills in the prompt shown on a node when the user gave no
// custom text.
func displayPromptFor(intent, parentLabel string) string {
	switch intent {
	case IntentRandomPose:
		return "Dynamic Random Pose"
	case IntentSwapClothing:
		return "Clothing Swap (Reference)"
	case IntentStyleTransfer:
		return "Style Transfer (Reference)"
	case IntentCameraView:
		return "Detail View / Reframed Composition"
	default:
		return fmt.Sprintf("Variation: %s of %s", intent, parentLabel)
	}
}

// historyBlock wraps the ancestry narrative in the framing the main
// instruction expects. Empty history yields an empty block.
func historyBlock(history string) string {
	if history == "" {
		return ""
	}
	return fmt.Sprintf(`TIMELINE MEMORY (Sequence of events leading to this frame):
%s

CRITICAL: Understand the modifications made in previous steps (e.g., if clothing was changed in step 2, it must remain that way unless changed again).
`, history)
}

// analysisPromptFor picks the JSON-analysis instruction for a reference image.
func analysisPromptFor(intent string) string {
	if intent == IntentSwapClothing {
		return "Analyze this image as a fashion reference. Return a JSON object with keys: 'garments' (list of specific items), 'materials' (fabric types), 'colors' (palette), 'fit' (description), 'details' (distinctive features like zippers, patterns)."
	}
	return "Analyze this image as a style reference. Return a JSON object with keys: 'art_style' (e.g., oil painting, cyberpunk), 'lighting_type', 'color_palette', 'mood', 'brushwork_or_texture'."
}

const posePrompt = "Generate a single, short, vivid description of a unique, high-fashion avant-garde pose. Focus on limb placement, energy, and angle. Do not describe clothing or background, only the pose. Example output: 'Crouching low with one leg extended to the side, looking up at the camera with chin tilted down, arms wrapped defensively around the torso.'"

func enhancementPrompt(instruction string) string {
	return fmt.Sprintf(`You are an expert Art Director. The user is editing an image and has provided this instruction: %q.

Your task: Expand this instruction into a concise but detailed prompt for an image generator.

CRITICAL INSTRUCTIONS FOR CONSISTENCY:
1. If the instruction is about camera angle (e.g. "close up", "wide shot") or pose, explicitly state to PRESERVE the subject's identity, facial features, and clothing details from the input image.
2. If the instruction is about environment (e.g. "on mars"), explicitly state to PRESERVE the subject and clothing.
3. Output ONLY the prompt. No intro/outro.`, instruction)
}

func swapClothingPrompt(history, analysisJSON string) string {
	return fmt.Sprintf(`%s
You are an expert Fashion Director.
IMAGE 1 (First image) is the TARGET MODEL (Current State).
IMAGE 2 (Second image) is the CLOTHING REFERENCE.
ASSET ANALYSIS (JSON): %s
TASK: Generate a new image of the model from IMAGE 1 wearing the outfit shown in IMAGE 2.
RULES:
1. PRESERVE: Face, hair, pose, lighting, and background of IMAGE 1 exactly.
2. REPLACE: The clothing of IMAGE 1 with the garments in IMAGE 2.
3. QUALITY: Photorealistic, 8k.`, historyBlock(history), analysisJSON)
}

func styleTransferPrompt(history, analysisJSON string) string {
	return fmt.Sprintf(`%s
You are an expert Visual Artist.
IMAGE 1: Content Source.
IMAGE 2: Style Reference.
STYLE DATA: %s
TASK: Re-imagine IMAGE 1 by applying the visual style of IMAGE 2.`, historyBlock(history), analysisJSON)
}

func combinePrompt(history, instruction string) string {
	return fmt.Sprintf(`%s
TASK: Combine the concepts of these two images based on this detailed instruction: %s.`, historyBlock(history), instruction)
}

func randomPosePrompt(history, pose string, hasRoot bool) string {
	rootLine, rootRule := "", ""
	if hasRoot {
		rootLine = "IMAGE 2 is the ROOT SEED (Identity/Details Ground Truth)."
		rootRule = "Use IMAGE 2 as the source of truth for facial details."
	}
	return fmt.Sprintf(`%s
You are an expert Fashion Photographer.
IMAGE 1 is the CURRENT FRAME (The result of the timeline above).
%s

TASK: Generate a new image of THIS SAME CHARACTER in a completely new pose: %q.

CONSISTENCY RULES:
- PRESERVE the character's facial features and identity perfectly. %s
- PRESERVE the exact outfit and fabric textures described in the Timeline Memory.
- PRESERVE the lighting and environment style.`, historyBlock(history), rootLine, pose, rootRule)
}

func cameraViewPrompt(history string, hasRoot bool) string {
	rootLine := ""
	if hasRoot {
		rootLine = "IMAGE 2: REFERENCE CONTEXT (For texture/style/identity truth only)."
	}
	return fmt.Sprintf(`%s
You are an expert Image Restorer and Detailer.
IMAGE 1: INPUT CROP (This is the strict composition).
%s

TASK: High-fidelity upscaling and refinement of IMAGE 1.

STRICT GUIDELINES:
1. COMPOSITION: The output must match the framing of IMAGE 1 exactly. Do not zoom out. Do not extend borders.
2. DETAIL: Hallucinate high-frequency details (skin texture, fabric weave, light reflections) that would be visible at this zoom level.
3. CONSISTENCY: Ensure textures match the Identity/Style established in IMAGE 2 (if provided).
4. NO TRANSFORMATION: Do not change the pose, expression, or content. Just enhance fidelity.`, historyBlock(history), rootLine)
}

func customPrompt(history, instruction string, hasRoot bool) string {
	rootLine, rootRule := "", ""
	if hasRoot {
		rootLine = "IMAGE 2: ROOT SEED (Identity/Clothing Ground Truth)."
		rootRule = "Look at Image 2 for facial structure and details."
	}
	return fmt.Sprintf(`%s
You are an expert Art Director.
IMAGE 1: INPUT IMAGE (Current composition).
%s

TASK: Transform the input image based on this directive: %q.

STRICT GUIDELINES FOR CONSISTENCY:
1. IDENTITY: Maintain the subject's face, hair, and body shape exactly. %s
2. ATTIRE: Maintain the exact clothing details established in the Timeline Memory unless the directive involves changing clothes.
3. QUALITY: Photorealistic, high fidelity.`, historyBlock(history), rootLine, instruction, rootRule)
}

func genericVariationPrompt(history, intent string, hasRoot bool) string {
	rootLine := ""
	if hasRoot {
		rootLine = "IMAGE 2: REFERENCE CONTEXT."
	}
	return fmt.Sprintf(`%s
You are an expert Art Director.
IMAGE 1: INPUT IMAGE.
%s
TASK: Generate a variation of this image with this focus: %s.
RULES:
- Keep the subject's identity and clothing consistent with the Timeline Memory.
- Only change the aspect requested (e.g. if 'angle', change camera angle but keep subject same).`, historyBlock(history), rootLine, intent)
}
