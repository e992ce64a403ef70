// Package studio orchestrates image generation: it turns a branch request
// into a pending tree node, assembles the multimodal prompt from ancestry
// context, runs the provider call through credential failover, and patches
// the node with the result.
package studio

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"flora/internal/ancestry"
	"flora/internal/failover"
	"flora/internal/gemini"
	"flora/internal/imaging"
	"flora/internal/logging"
	"flora/internal/tree"

	"golang.org/x/sync/errgroup"
)

// Provider is the slice of the generation API the studio needs. Satisfied by
// *gemini.Client; tests substitute fakes.
type Provider interface {
	Complete(ctx context.Context, prompt string, temperature *float32) (string, error)
	CompleteJSON(ctx context.Context, prompt string, image *gemini.InlineImage) (string, error)
	GenerateImage(ctx context.Context, instruction string, images []gemini.InlineImage, aspectRatio string) (*gemini.GeneratedImage, error)
}

// ProviderFactory builds a provider bound to a single credential. Called once
// per failover attempt.
type ProviderFactory func(ctx context.Context, apiKey string) (Provider, error)

// Phase is a step in the per-request generation lifecycle.
type Phase string

const (
	PhaseRequested        Phase = "requested"
	PhaseImagePreparing   Phase = "image_preparing"
	PhasePromptAssembling Phase = "prompt_assembling"
	PhaseAnalyzing        Phase = "analyzing"
	PhaseSubmitting       Phase = "submitting"
	PhaseSucceeded        Phase = "succeeded"
	PhaseFailed           Phase = "failed"
)

// ErrInFlight is returned when a retry targets a node whose generation is
// still pending.
var ErrInFlight = errors.New("generation already in flight")

// BranchRequest describes a new variation to spawn under a parent node.
type BranchRequest struct {
	ParentID   string
	Intent     string
	CustomText string
	// ReferenceImage, when set, is a second source image (clothing or style
	// reference) for multi-image prompting.
	ReferenceImage string
	// OverrideSource replaces the parent's image as the primary input, used
	// by the camera-view crop flow.
	OverrideSource string
	Slot           tree.BatchSlot
}

// Orchestrator coordinates the tree store, ancestry context, and provider
// calls for every generation request.
type Orchestrator struct {
	store   *tree.Store
	asm     *ancestry.Assembler
	factory ProviderFactory

	poolMu sync.RWMutex
	pool   *failover.Pool

	subPause  time.Duration
	posePause time.Duration
	onPhase   func(nodeID string, ph Phase)
}

// Option adjusts orchestrator behavior.
type Option func(*Orchestrator)

// WithPauses overrides the inter-call pacing delays.
func WithPauses(sub, pose time.Duration) Option {
	return func(o *Orchestrator) {
		o.subPause = sub
		o.posePause = pose
	}
}

// WithPhaseHook registers a callback invoked on every lifecycle transition.
func WithPhaseHook(fn func(nodeID string, ph Phase)) Option {
	return func(o *Orchestrator) { o.onPhase = fn }
}

// New creates an orchestrator over the given store and credential pool.
func New(store *tree.Store, pool *failover.Pool, factory ProviderFactory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		asm:       ancestry.New(store),
		pool:      pool,
		factory:   factory,
		subPause:  500 * time.Millisecond,
		posePause: time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// UpdatePool swaps the credential pool, typically after a config reload.
// In-flight requests keep the pool they started with.
func (o *Orchestrator) UpdatePool(p *failover.Pool) {
	o.poolMu.Lock()
	o.pool = p
	o.poolMu.Unlock()
	logging.Studio("credential pool updated size=%d", p.Len())
}

func (o *Orchestrator) currentPool() *failover.Pool {
	o.poolMu.RLock()
	defer o.poolMu.RUnlock()
	return o.pool
}

func (o *Orchestrator) phase(nodeID string, ph Phase) {
	logging.StudioDebug("node=%s phase=%s", nodeID, ph)
	if o.onPhase != nil {
		o.onPhase(nodeID, ph)
	}
}

// branchJob is the resolved work for one spawned child.
type branchJob struct {
	parentID    string
	intent      string
	instruction string
	source      string
	reference   string
}

// prepareBranch inserts the pending child node and resolves the job inputs.
func (o *Orchestrator) prepareBranch(req BranchRequest) (string, branchJob, error) {
	parent, ok := o.store.Get(req.ParentID)
	if !ok {
		return "", branchJob{}, tree.ErrNotFound
	}

	display := req.CustomText
	if display == "" {
		display = displayPromptFor(req.Intent, parent.Label)
	}

	id, err := o.store.InsertChild(req.ParentID, tree.ChildSpec{
		Prompt: display,
		Label:  labelFor(req.Intent),
		Intent: req.Intent,
		Slot:   req.Slot,
	})
	if err != nil {
		return "", branchJob{}, err
	}
	o.phase(id, PhaseRequested)

	instruction := req.CustomText
	switch {
	case req.Intent == IntentCameraView:
		instruction = "Strictly preserve this cropping. Enhance resolution and details."
	case instruction == "":
		instruction = fmt.Sprintf("Apply %s style/transformation", req.Intent)
	}

	source := req.OverrideSource
	if source == "" {
		source = parent.ImageURL
	}

	return id, branchJob{
		parentID:    req.ParentID,
		intent:      req.Intent,
		instruction: instruction,
		source:      source,
		reference:   req.ReferenceImage,
	}, nil
}

// runBranch executes the job and patches the node with the outcome.
func (o *Orchestrator) runBranch(ctx context.Context, id string, job branchJob) error {
	dataURL, err := o.generate(ctx, id, job)
	if err != nil {
		o.failNode(id, err)
		return err
	}
	pending := false
	o.store.UpdateNode(id, tree.Patch{ImageURL: &dataURL, Pending: &pending})
	o.phase(id, PhaseSucceeded)
	return nil
}

func (o *Orchestrator) failNode(id string, err error) {
	logging.StudioError("node=%s generation failed: %v", id, err)
	label := tree.LabelError
	pending := false
	o.store.UpdateNode(id, tree.Patch{Label: &label, Pending: &pending})
	o.phase(id, PhaseFailed)
}

// Branch spawns one child under a parent and generates its image. The child
// node exists (pending) as soon as the call starts; on failure it is marked
// with the error label and the error is returned.
func (o *Orchestrator) Branch(ctx context.Context, req BranchRequest) (string, error) {
	id, job, err := o.prepareBranch(req)
	if err != nil {
		return "", err
	}
	return id, o.runBranch(ctx, id, job)
}

// Director spawns a free-text directive branch.
func (o *Orchestrator) Director(ctx context.Context, parentID, directive string) (string, error) {
	return o.Branch(ctx, BranchRequest{ParentID: parentID, Intent: IntentDirector, CustomText: directive})
}

// AngleBatch spawns count children under parentID, each with a distinct
// camera-angle directive sampled from the fixed menu. Children generate
// concurrently; all nodes exist before any generation starts so the batch
// fan layout is stable.
func (o *Orchestrator) AngleBatch(ctx context.Context, parentID string, count int) ([]string, error) {
	if count < 1 {
		count = 1
	}
	if count > len(angleDirectives) {
		count = len(angleDirectives)
	}

	shuffled := make([]string, len(angleDirectives))
	copy(shuffled, angleDirectives)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	ids := make([]string, 0, count)
	jobs := make([]branchJob, 0, count)
	for i := 0; i < count; i++ {
		id, job, err := o.prepareBranch(BranchRequest{
			ParentID:   parentID,
			Intent:     IntentAngle,
			CustomText: shuffled[i],
			Slot:       tree.BatchSlot{Index: i, Count: count},
		})
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
		jobs = append(jobs, job)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range ids {
		id, job := ids[i], jobs[i]
		g.Go(func() error {
			return o.runBranch(gctx, id, job)
		})
	}
	return ids, g.Wait()
}

// Retry re-runs generation for a node in place, reusing its id, prompt, and
// intent. Seeds regenerate from their prompt; variations regenerate from
// their parent's current image.
func (o *Orchestrator) Retry(ctx context.Context, id string) error {
	n, ok := o.store.Get(id)
	if !ok {
		return tree.ErrNotFound
	}
	if n.Pending {
		return ErrInFlight
	}
	if n.Kind == tree.KindSeed {
		return o.regenerateSeed(ctx, id, n.Prompt)
	}

	parent, ok := o.store.Get(n.ParentID)
	if !ok {
		return tree.ErrNotFound
	}
	intent := n.Meta.Intent
	if intent == "" {
		intent = "variation"
	}

	pending := true
	label := labelFor(intent)
	o.store.UpdateNode(id, tree.Patch{Pending: &pending, Label: &label})
	o.phase(id, PhaseRequested)

	return o.runBranch(ctx, id, branchJob{
		parentID:    n.ParentID,
		intent:      intent,
		instruction: n.Prompt,
		source:      parent.ImageURL,
	})
}

// NewSeed inserts a fresh seed node and generates its image from the prompt.
func (o *Orchestrator) NewSeed(ctx context.Context, prompt string) (string, error) {
	id := o.store.InsertSeed(prompt, "")
	return id, o.regenerateSeed(ctx, id, prompt)
}

func (o *Orchestrator) regenerateSeed(ctx context.Context, id, prompt string) error {
	pending := true
	label := labelGenerating
	o.store.UpdateNode(id, tree.Patch{Pending: &pending, Label: &label})
	o.phase(id, PhaseRequested)

	final := prompt
	if len(prompt) < enhanceThresholdSeed {
		o.phase(id, PhaseAnalyzing)
		final = o.enhance(ctx, prompt)
		time.Sleep(o.subPause)
	}

	o.phase(id, PhaseSubmitting)
	img, err := o.generateImage(ctx, final, nil, "1:1")
	if err != nil {
		o.failNode(id, err)
		return err
	}

	dataURL := imagePartDataURL(img)
	pending = false
	seedLabel := tree.LabelSeed
	o.store.UpdateNode(id, tree.Patch{ImageURL: &dataURL, Label: &seedLabel, Prompt: &prompt, Pending: &pending})
	o.phase(id, PhaseSucceeded)
	return nil
}

// generate runs the full pipeline for one variation and returns the result
// as a data URL.
func (o *Orchestrator) generate(ctx context.Context, nodeID string, job branchJob) (string, error) {
	o.phase(nodeID, PhaseImagePreparing)
	parentImg, err := imaging.Normalize(ctx, job.source)
	if err != nil {
		return "", fmt.Errorf("source image: %w", err)
	}
	aspect := imaging.ClosestAspectRatio(parentImg.Width, parentImg.Height)

	history := o.asm.HistoryNarrative(job.parentID)
	rootURL, hasRootURL := o.asm.RootReferenceImage(job.parentID)

	var finalPrompt string
	images := []gemini.InlineImage{inline(parentImg)}

	if job.reference != "" {
		refImg, err := imaging.Normalize(ctx, job.reference)
		if err != nil {
			return "", fmt.Errorf("reference image: %w", err)
		}

		analysisJSON := "{}"
		if job.intent == IntentSwapClothing || job.intent == IntentStyleTransfer {
			o.phase(nodeID, PhaseAnalyzing)
			analysisJSON = o.analyzeReference(ctx, refImg, job.intent)
			time.Sleep(o.subPause)
		}

		o.phase(nodeID, PhasePromptAssembling)
		switch job.intent {
		case IntentSwapClothing:
			finalPrompt = swapClothingPrompt(history, analysisJSON)
		case IntentStyleTransfer:
			finalPrompt = styleTransferPrompt(history, analysisJSON)
		default:
			instruction := job.instruction
			if len(instruction) < enhanceThresholdRefPair {
				o.phase(nodeID, PhaseAnalyzing)
				instruction = o.enhance(ctx, instruction)
				time.Sleep(o.subPause)
			}
			finalPrompt = combinePrompt(history, instruction)
		}
		images = append(images, inline(refImg))
	} else {
		// The root seed rides along as an identity anchor unless it is the
		// image we are already transforming.
		var rootImg *imaging.Normalized
		if hasRootURL && rootURL != "" && rootURL != job.source {
			rootImg, err = imaging.Normalize(ctx, rootURL)
			if err != nil {
				logging.Studio("root context image unusable, continuing without: %v", err)
				rootImg = nil
			}
		}
		hasRoot := rootImg != nil

		switch {
		case job.intent == IntentRandomPose:
			o.phase(nodeID, PhaseAnalyzing)
			pose := o.randomPose(ctx)
			time.Sleep(o.posePause)
			o.phase(nodeID, PhasePromptAssembling)
			finalPrompt = randomPosePrompt(history, pose, hasRoot)
		case job.intent == IntentCameraView:
			o.phase(nodeID, PhasePromptAssembling)
			finalPrompt = cameraViewPrompt(history, hasRoot)
		case job.intent == IntentCustom || job.instruction != "":
			instruction := job.instruction
			if len(instruction) < enhanceThresholdCustom {
				o.phase(nodeID, PhaseAnalyzing)
				instruction = o.enhance(ctx, instruction)
				time.Sleep(o.subPause)
			}
			o.phase(nodeID, PhasePromptAssembling)
			finalPrompt = customPrompt(history, instruction, hasRoot)
		default:
			o.phase(nodeID, PhasePromptAssembling)
			finalPrompt = genericVariationPrompt(history, job.intent, hasRoot)
		}
		if hasRoot {
			images = append(images, inline(rootImg))
		}
	}

	o.phase(nodeID, PhaseSubmitting)
	img, err := o.generateImage(ctx, finalPrompt, images, aspect)
	if err != nil {
		return "", err
	}
	return imagePartDataURL(img), nil
}

// call runs one provider operation through credential failover, building a
// fresh single-key client per attempt.
func call[T any](ctx context.Context, o *Orchestrator, op func(ctx context.Context, p Provider) (T, error)) (T, error) {
	return failover.Execute(ctx, o.currentPool(), func(ctx context.Context, key string) (T, error) {
		p, err := o.factory(ctx, key)
		if err != nil {
			var zero T
			return zero, err
		}
		return op(ctx, p)
	})
}

func (o *Orchestrator) generateImage(ctx context.Context, instruction string, images []gemini.InlineImage, aspect string) (*gemini.GeneratedImage, error) {
	return call(ctx, o, func(ctx context.Context, p Provider) (*gemini.GeneratedImage, error) {
		return p.GenerateImage(ctx, instruction, images, aspect)
	})
}

// analyzeReference extracts structured attributes from a reference image.
// Failure degrades to an empty JSON object; the main call still works, just
// with less detail.
func (o *Orchestrator) analyzeReference(ctx context.Context, img *imaging.Normalized, intent string) string {
	out, err := call(ctx, o, func(ctx context.Context, p Provider) (string, error) {
		ref := inline(img)
		return p.CompleteJSON(ctx, analysisPromptFor(intent), &ref)
	})
	if err != nil {
		logging.Studio("reference analysis failed, continuing without: %v", err)
		return "{}"
	}
	return out
}

// randomPose asks the text model for a fresh pose description at high
// temperature. Failure degrades to a fixed phrase.
func (o *Orchestrator) randomPose(ctx context.Context) string {
	temp := float32(1.2)
	out, err := call(ctx, o, func(ctx context.Context, p Provider) (string, error) {
		return p.Complete(ctx, posePrompt, &temp)
	})
	if err != nil || strings.TrimSpace(out) == "" {
		logging.Studio("pose generation failed, using fallback: %v", err)
		return fallbackPose
	}
	return strings.TrimSpace(out)
}

// enhance expands a short instruction into a detailed one. Failure degrades
// to the original text.
func (o *Orchestrator) enhance(ctx context.Context, instruction string) string {
	out, err := call(ctx, o, func(ctx context.Context, p Provider) (string, error) {
		return p.Complete(ctx, enhancementPrompt(instruction), nil)
	})
	if err != nil || strings.TrimSpace(out) == "" {
		logging.Studio("prompt enhancement failed, using original: %v", err)
		return instruction
	}
	return strings.TrimSpace(out)
}

func inline(img *imaging.Normalized) gemini.InlineImage {
	return gemini.InlineImage{MIME: img.MIME, Data: img.Data}
}

func imagePartDataURL(img *gemini.GeneratedImage) string {
	return "data:" + img.MIME + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
