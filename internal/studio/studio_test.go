package studio

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"sync"
	"testing"

	"flora/internal/failover"
	"flora/internal/gemini"
	"flora/internal/tree"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// longDirective is over the enhancement threshold so tests using it make
// exactly one provider call.
const longDirective = "Place the subject on a rain-soaked neon street at night, keeping the exact same outfit, hair, and facial features, with shallow depth of field and cinematic teal-orange grading throughout."

// jpegBytes is a real decodable JPEG so generated nodes can serve as parents
// of further branches.
var jpegBytes = func() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 30, G: 200, B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		panic(err)
	}
	return buf.Bytes()
}()

func testDataURL(t *testing.T) string {
	return sizedDataURL(t, 16, 16)
}

// sizedDataURL builds a PNG data URL with the given pixel dimensions.
func sizedDataURL(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 90, G: 40, B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

// fakeHub scripts provider behavior per credential and records what was sent.
type fakeHub struct {
	mu sync.Mutex

	completeFn func(key, prompt string) (string, error)
	jsonFn     func(key, prompt string) (string, error)
	imageFn    func(key, instruction string, imageCount int, aspect string) (*gemini.GeneratedImage, error)

	imageKeys        []string
	lastInstruction  string
	lastAspect       string
	lastImageCount   int
	factoryCallCount int
}

func (h *fakeHub) factory(_ context.Context, key string) (Provider, error) {
	h.mu.Lock()
	h.factoryCallCount++
	h.mu.Unlock()
	return &fakeProvider{key: key, hub: h}, nil
}

type fakeProvider struct {
	key string
	hub *fakeHub
}

func (p *fakeProvider) Complete(_ context.Context, prompt string, _ *float32) (string, error) {
	if p.hub.completeFn == nil {
		return "completion", nil
	}
	return p.hub.completeFn(p.key, prompt)
}

func (p *fakeProvider) CompleteJSON(_ context.Context, prompt string, _ *gemini.InlineImage) (string, error) {
	if p.hub.jsonFn == nil {
		return "{}", nil
	}
	return p.hub.jsonFn(p.key, prompt)
}

func (p *fakeProvider) GenerateImage(_ context.Context, instruction string, images []gemini.InlineImage, aspect string) (*gemini.GeneratedImage, error) {
	p.hub.mu.Lock()
	p.hub.imageKeys = append(p.hub.imageKeys, p.key)
	p.hub.lastInstruction = instruction
	p.hub.lastAspect = aspect
	p.hub.lastImageCount = len(images)
	p.hub.mu.Unlock()
	if p.hub.imageFn == nil {
		return &gemini.GeneratedImage{MIME: "image/jpeg", Data: jpegBytes}, nil
	}
	return p.hub.imageFn(p.key, instruction, len(images), aspect)
}

func newTestOrchestrator(t *testing.T, hub *fakeHub, keys ...string) (*Orchestrator, *tree.Store) {
	t.Helper()
	if len(keys) == 0 {
		keys = []string{"test-key"}
	}
	var fallbacks []string
	if len(keys) > 1 {
		fallbacks = keys[1:]
	}
	store := tree.NewStore()
	o := New(store, failover.NewPool(keys[0], "", fallbacks), hub.factory, WithPauses(0, 0))
	return o, store
}

func TestBranchResolvesPendingNode(t *testing.T) {
	hub := &fakeHub{}
	o, store := newTestOrchestrator(t, hub)
	seed := store.InsertSeed("a model in a charcoal suit", testDataURL(t))

	var phases []Phase
	o.onPhase = func(_ string, ph Phase) { phases = append(phases, ph) }

	id, err := o.Branch(context.Background(), BranchRequest{ParentID: seed, Intent: IntentRandomPose})
	require.NoError(t, err)

	n, ok := store.Get(id)
	require.True(t, ok)
	require.False(t, n.Pending)
	require.Equal(t, "RANDOM POSE", n.Label)
	require.Equal(t, "Dynamic Random Pose", n.Prompt)
	require.Equal(t, tree.Position{X: tree.XSpacing, Y: 0}, n.Position)
	wantURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegBytes)
	require.Equal(t, wantURL, n.ImageURL)

	require.Equal(t, PhaseRequested, phases[0])
	require.Equal(t, PhaseSucceeded, phases[len(phases)-1])

	// Seed is both parent and root: no duplicate identity anchor.
	require.Equal(t, 1, hub.lastImageCount)
	require.Equal(t, "1:1", hub.lastAspect)
}

func TestBranchMissingParent(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeHub{})
	_, err := o.Branch(context.Background(), BranchRequest{ParentID: "ghost", Intent: IntentCustom})
	require.ErrorIs(t, err, tree.ErrNotFound)
}

func TestFailoverRotationOrder(t *testing.T) {
	hub := &fakeHub{
		imageFn: func(key, _ string, _ int, _ string) (*gemini.GeneratedImage, error) {
			if key != "k3" {
				return nil, &gemini.QuotaError{Code: 429, Message: "exhausted"}
			}
			return &gemini.GeneratedImage{MIME: "image/jpeg", Data: []byte("ok")}, nil
		},
	}
	o, store := newTestOrchestrator(t, hub, "k1", "k2", "k3")
	seed := store.InsertSeed("seed", testDataURL(t))

	id, err := o.Branch(context.Background(), BranchRequest{
		ParentID: seed, Intent: IntentCustom, CustomText: longDirective,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"k1", "k2", "k3"}, hub.imageKeys)

	n, _ := store.Get(id)
	require.False(t, n.Pending)
	require.NotEmpty(t, n.ImageURL)
}

func TestClientErrorAbortsWithoutRotation(t *testing.T) {
	hub := &fakeHub{
		imageFn: func(_, _ string, _ int, _ string) (*gemini.GeneratedImage, error) {
			return nil, &gemini.ClientError{Code: 400, Message: "blocked"}
		},
	}
	o, store := newTestOrchestrator(t, hub, "k1", "k2")
	seed := store.InsertSeed("seed", testDataURL(t))

	id, err := o.Branch(context.Background(), BranchRequest{
		ParentID: seed, Intent: IntentCustom, CustomText: longDirective,
	})
	var ce *gemini.ClientError
	require.ErrorAs(t, err, &ce)
	require.Len(t, hub.imageKeys, 1, "fatal errors must not rotate credentials")

	n, _ := store.Get(id)
	require.False(t, n.Pending)
	require.Equal(t, tree.LabelError, n.Label)
}

func TestStaleCompletionDoesNotResurrect(t *testing.T) {
	hub := &fakeHub{}
	o, store := newTestOrchestrator(t, hub)
	seed := store.InsertSeed("seed", testDataURL(t))

	// Delete the node while its request is being submitted, as if the user
	// pruned the branch mid-flight.
	o.onPhase = func(nodeID string, ph Phase) {
		if ph == PhaseSubmitting {
			store.DeleteSubtree(nodeID)
		}
	}

	id, err := o.Branch(context.Background(), BranchRequest{
		ParentID: seed, Intent: IntentCustom, CustomText: longDirective,
	})
	require.NoError(t, err)
	_, ok := store.Get(id)
	require.False(t, ok, "stale completion resurrected a deleted node")
}

func TestPoseFallbackOnSubCallFailure(t *testing.T) {
	hub := &fakeHub{
		completeFn: func(_, _ string) (string, error) {
			return "", &gemini.ServerError{Code: 503, Message: "down"}
		},
	}
	o, store := newTestOrchestrator(t, hub)
	seed := store.InsertSeed("seed", testDataURL(t))

	_, err := o.Branch(context.Background(), BranchRequest{ParentID: seed, Intent: IntentRandomPose})
	require.NoError(t, err, "a failed pose sub-call must degrade, not fail the branch")
	require.Contains(t, hub.lastInstruction, fallbackPose)
}

func TestSwapClothingSendsBothImagesAndAnalysis(t *testing.T) {
	hub := &fakeHub{
		jsonFn: func(_, prompt string) (string, error) {
			require.Contains(t, prompt, "fashion reference")
			return `{"garments":["wool coat"]}`, nil
		},
	}
	o, store := newTestOrchestrator(t, hub)
	seed := store.InsertSeed("seed", testDataURL(t))

	_, err := o.Branch(context.Background(), BranchRequest{
		ParentID:       seed,
		Intent:         IntentSwapClothing,
		ReferenceImage: testDataURL(t),
	})
	require.NoError(t, err)
	require.Equal(t, 2, hub.lastImageCount, "target plus reference")
	require.Contains(t, hub.lastInstruction, `{"garments":["wool coat"]}`)
	require.Contains(t, hub.lastInstruction, "CLOTHING REFERENCE")
}

func TestCameraViewUsesOverrideSource(t *testing.T) {
	hub := &fakeHub{}
	o, store := newTestOrchestrator(t, hub)
	seed := store.InsertSeed("seed", testDataURL(t))

	crop := sizedDataURL(t, 64, 36)
	id, err := o.Branch(context.Background(), BranchRequest{
		ParentID:       seed,
		Intent:         IntentCameraView,
		OverrideSource: crop,
	})
	require.NoError(t, err)

	// Aspect follows the crop, not the square parent image.
	require.Equal(t, "16:9", hub.lastAspect)
	require.Equal(t, 2, hub.lastImageCount, "crop plus root seed anchor")
	require.Contains(t, hub.lastInstruction, "Image Restorer")
	require.Contains(t, hub.lastInstruction, "REFERENCE CONTEXT")

	n, _ := store.Get(id)
	require.Equal(t, "CAMERA VIEW", n.Label)
	require.Equal(t, "Detail View / Reframed Composition", n.Prompt)
	require.False(t, n.Pending)
	require.NotEmpty(t, n.ImageURL)
}

func TestStyleTransferSendsStyleAnalysis(t *testing.T) {
	hub := &fakeHub{
		jsonFn: func(_, prompt string) (string, error) {
			require.Contains(t, prompt, "style reference")
			return `{"art_style":"pastel watercolor"}`, nil
		},
	}
	o, store := newTestOrchestrator(t, hub)
	seed := store.InsertSeed("seed", testDataURL(t))

	id, err := o.Branch(context.Background(), BranchRequest{
		ParentID:       seed,
		Intent:         IntentStyleTransfer,
		ReferenceImage: testDataURL(t),
	})
	require.NoError(t, err)
	require.Equal(t, 2, hub.lastImageCount, "content plus style reference")
	require.Contains(t, hub.lastInstruction, "Style Reference")
	require.Contains(t, hub.lastInstruction, `{"art_style":"pastel watercolor"}`)

	n, _ := store.Get(id)
	require.Equal(t, "STYLE-TRANSFER", n.Label)
	require.Equal(t, "Style Transfer (Reference)", n.Prompt)
}

func TestNewSeedEnhancesShortPrompt(t *testing.T) {
	hub := &fakeHub{
		completeFn: func(_, prompt string) (string, error) {
			require.Contains(t, prompt, `"a cat"`)
			return "A regal tabby cat on a velvet chaise, studio lighting.", nil
		},
	}
	o, store := newTestOrchestrator(t, hub)

	id, err := o.NewSeed(context.Background(), "a cat")
	require.NoError(t, err)
	require.Equal(t, "A regal tabby cat on a velvet chaise, studio lighting.", hub.lastInstruction)
	require.Equal(t, "1:1", hub.lastAspect)

	n, _ := store.Get(id)
	require.Equal(t, tree.KindSeed, n.Kind)
	require.Equal(t, tree.LabelSeed, n.Label)
	require.Equal(t, "a cat", n.Prompt, "display prompt keeps the user's words")
	require.False(t, n.Pending)
	require.NotEmpty(t, n.ImageURL)
}

func TestAngleBatchSpawnsDistinctDirectives(t *testing.T) {
	hub := &fakeHub{}
	o, store := newTestOrchestrator(t, hub)
	seed := store.InsertSeed("seed", testDataURL(t))

	ids, err := o.AngleBatch(context.Background(), seed, 3)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	seen := map[string]bool{}
	var ys []float64
	for _, id := range ids {
		n, ok := store.Get(id)
		require.True(t, ok)
		require.False(t, n.Pending)
		require.NotEmpty(t, n.ImageURL)
		require.Equal(t, "ANGLE", n.Label)
		require.False(t, seen[n.Prompt], "directives must be sampled without replacement")
		seen[n.Prompt] = true
		ys = append(ys, n.Position.Y)
	}
	// Fan is centered on the parent (Y=0).
	require.Equal(t, []float64{-tree.YSpacing, 0, tree.YSpacing}, ys)
}

func TestRetryReusesNodeID(t *testing.T) {
	fail := true
	hub := &fakeHub{
		imageFn: func(_, _ string, _ int, _ string) (*gemini.GeneratedImage, error) {
			if fail {
				return nil, &gemini.ClientError{Code: 400, Message: "nope"}
			}
			return &gemini.GeneratedImage{MIME: "image/jpeg", Data: []byte("retry-ok")}, nil
		},
	}
	o, store := newTestOrchestrator(t, hub)
	seed := store.InsertSeed("seed", testDataURL(t))

	id, err := o.Branch(context.Background(), BranchRequest{
		ParentID: seed, Intent: IntentCustom, CustomText: longDirective,
	})
	require.Error(t, err)
	n, _ := store.Get(id)
	require.Equal(t, tree.LabelError, n.Label)

	fail = false
	require.NoError(t, o.Retry(context.Background(), id))

	n, ok := store.Get(id)
	require.True(t, ok)
	require.False(t, n.Pending)
	require.Equal(t, "CUSTOM", n.Label)
	require.Contains(t, n.ImageURL, base64.StdEncoding.EncodeToString([]byte("retry-ok")))
	require.Equal(t, 1, store.Len()-1, "retry must not create a new node")
}

func TestRetryWhilePending(t *testing.T) {
	o, store := newTestOrchestrator(t, &fakeHub{})
	seed := store.InsertSeed("seed", testDataURL(t))
	id, _ := store.InsertChild(seed, tree.ChildSpec{Intent: IntentCustom})

	err := o.Retry(context.Background(), id)
	require.ErrorIs(t, err, ErrInFlight)
}

func TestNoCredentialsFailsFast(t *testing.T) {
	hub := &fakeHub{}
	store := tree.NewStore()
	o := New(store, failover.NewPool("", "", nil), hub.factory, WithPauses(0, 0))
	seed := store.InsertSeed("seed", testDataURL(t))

	id, err := o.Branch(context.Background(), BranchRequest{
		ParentID: seed, Intent: IntentCustom, CustomText: longDirective,
	})
	require.ErrorIs(t, err, failover.ErrNoCredentials)
	require.Equal(t, 0, hub.factoryCallCount)

	n, _ := store.Get(id)
	require.Equal(t, tree.LabelError, n.Label)
	require.False(t, n.Pending)
}

func TestDirectorBranchLabel(t *testing.T) {
	hub := &fakeHub{}
	o, store := newTestOrchestrator(t, hub)
	seed := store.InsertSeed("seed", testDataURL(t))

	id, err := o.Director(context.Background(), seed, longDirective)
	require.NoError(t, err)
	n, _ := store.Get(id)
	require.Equal(t, "DIRECTOR", n.Label)
	require.Equal(t, longDirective, n.Prompt)
}

func TestGenericIntentHistoryInInstruction(t *testing.T) {
	hub := &fakeHub{
		completeFn: func(_, prompt string) (string, error) {
			// Enhancement sub-call for the short default instruction.
			return "expanded directive with preserved identity", nil
		},
	}
	o, store := newTestOrchestrator(t, hub)
	seed := store.InsertSeed("a windswept portrait", testDataURL(t))
	mid, err := o.Branch(context.Background(), BranchRequest{
		ParentID: seed, Intent: IntentCustom, CustomText: longDirective,
	})
	require.NoError(t, err)

	_, err = o.Branch(context.Background(), BranchRequest{ParentID: mid, Intent: "warmer lighting"})
	require.NoError(t, err)
	require.Contains(t, hub.lastInstruction, "TIMELINE MEMORY")
	require.Contains(t, hub.lastInstruction, `[START] ROOT SEED: "a windswept portrait"`)
	if !strings.Contains(hub.lastInstruction, "expanded directive") {
		t.Errorf("enhanced instruction missing from final prompt:\n%s", hub.lastInstruction)
	}
}

func TestRetryMissingNode(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeHub{})
	require.ErrorIs(t, o.Retry(context.Background(), "ghost"), tree.ErrNotFound)
}
