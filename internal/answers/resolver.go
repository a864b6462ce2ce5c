// Package answers resolves form questions through saved answers, the profile,
// generation and finally the operator, in that order.
package answers

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/waypoint/api/schemas"
	"github.com/xkilldash9x/waypoint/internal/config"
	"github.com/xkilldash9x/waypoint/internal/humanio"
	"github.com/xkilldash9x/waypoint/internal/llmutil"
	"github.com/xkilldash9x/waypoint/internal/profile"
	"github.com/xkilldash9x/waypoint/internal/store"
)

// ProfileSource loads the current profile document.
type ProfileSource interface {
	Load() (*profile.Profile, error)
}

// Resolver implements the tiered answer policy.
type Resolver struct {
	repo     store.Repository
	profiles ProfileSource
	llm      schemas.LLMClient
	human    humanio.Channel
	cfg      config.AnswersConfig
	logger   *zap.Logger
}

// NewResolver wires the resolver. repo and profiles may be nil, in which case
// those tiers are skipped.
func NewResolver(repo store.Repository, profiles ProfileSource, llm schemas.LLMClient, human humanio.Channel, cfg config.AnswersConfig, logger *zap.Logger) *Resolver {
	return &Resolver{
		repo:     repo,
		profiles: profiles,
		llm:      llm,
		human:    human,
		cfg:      cfg,
		logger:   logger.Named("answers"),
	}
}

// Resolve answers q. Only operator errors (declined, no input, cancellation)
// are returned; store and cognition failures degrade to the next tier.
func (r *Resolver) Resolve(ctx context.Context, q schemas.Question) (schemas.AnswerResult, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return schemas.AnswerResult{}, fmt.Errorf("question text is empty")
	}
	log := r.logger.With(zap.String("question", q.Text))

	if res, ok, err := r.fromStore(ctx, q, log); err != nil || ok {
		return res, err
	}

	prof := r.loadProfile(log)
	if prof != nil {
		if path, value, ok := prof.Lookup(q.Text); ok {
			log.Debug("Answered from profile", zap.String("path", path))
			return schemas.AnswerResult{Answer: value, Confidence: 1.0, Provenance: schemas.ProvenanceProfile}, nil
		}
	}

	gen := r.generate(ctx, q, prof, log)
	switch {
	case gen.Confidence >= r.cfg.AutoThreshold:
		return r.autoTier(ctx, q, gen)
	case gen.Confidence >= r.cfg.SuggestThreshold:
		return r.suggestTier(ctx, q, gen)
	default:
		return r.askTier(ctx, q)
	}
}

// fromStore offers a similar saved answer for reuse.
func (r *Resolver) fromStore(ctx context.Context, q schemas.Question, log *zap.Logger) (schemas.AnswerResult, bool, error) {
	if r.repo == nil {
		return schemas.AnswerResult{}, false, nil
	}
	match, err := r.repo.FindSimilar(ctx, q.Text, r.cfg.MatchThreshold)
	if err != nil {
		log.Warn("Reuse store lookup failed", zap.Error(err))
		return schemas.AnswerResult{}, false, nil
	}
	if match == nil {
		return schemas.AnswerResult{}, false, nil
	}

	reuse, err := r.human.Confirm(ctx, fmt.Sprintf("Saved answer for %q (similarity %.2f):\n  %s\nUse it?",
		match.Answer.Question, match.Score, match.Answer.Answer), true)
	if err != nil {
		return schemas.AnswerResult{}, false, err
	}
	if !reuse {
		return schemas.AnswerResult{}, false, nil
	}
	if err := r.repo.MarkUsed(ctx, match.Answer.Question); err != nil {
		log.Warn("Failed to update usage count", zap.Error(err))
	}
	return schemas.AnswerResult{
		Answer:     match.Answer.Answer,
		Confidence: 1.0,
		Provenance: schemas.ProvenanceCached,
		Persisted:  true,
	}, true, nil
}

func (r *Resolver) loadProfile(log *zap.Logger) *profile.Profile {
	if r.profiles == nil {
		return nil
	}
	p, err := r.profiles.Load()
	if err != nil {
		log.Warn("Failed to load profile", zap.Error(err))
		return nil
	}
	return p
}

const generateSystemPrompt = `You fill in application forms on behalf of the person described by the profile.
Answer only from the profile. Do not invent facts. If the profile does not support an answer, give your best guess and a low confidence.
Respond with a single JSON object: {"answer": string, "confidence": number between 0 and 1}.`

// generate asks cognition for an answer. Any failure yields confidence 0.
func (r *Resolver) generate(ctx context.Context, q schemas.Question, prof *profile.Profile, log *zap.Logger) schemas.GeneratedAnswer {
	if r.llm == nil {
		return schemas.GeneratedAnswer{}
	}
	var doc string
	if prof != nil {
		if y, err := prof.YAML(); err == nil {
			doc = y
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Profile:\n%s\nQuestion: %s\n", doc, q.Text)
	if len(q.Options) > 0 {
		fmt.Fprintf(&b, "The answer must be exactly one of: %s\n", strings.Join(q.Options, " | "))
	}
	if q.Kind == schemas.QuestionCheckbox {
		b.WriteString("Answer \"yes\" or \"no\".\n")
	}

	raw, err := r.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: generateSystemPrompt,
		UserPrompt:   b.String(),
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{Temperature: 0.1, ForceJSONFormat: true},
	})
	if err != nil {
		log.Warn("Answer generation failed", zap.Error(err))
		return schemas.GeneratedAnswer{}
	}
	gen, err := llmutil.ParseJSONResponse[schemas.GeneratedAnswer](raw)
	if err != nil {
		log.Warn("Answer generation returned an unusable payload", zap.Error(err))
		return schemas.GeneratedAnswer{}
	}

	gen.Answer = strings.TrimSpace(gen.Answer)
	if gen.Answer == "" {
		return schemas.GeneratedAnswer{}
	}
	gen.Confidence = min(max(gen.Confidence, 0), 1)
	if len(q.Options) > 0 {
		opt, ok := matchOption(gen.Answer, q.Options)
		if !ok {
			log.Debug("Generated answer is not one of the options", zap.String("answer", gen.Answer))
			return schemas.GeneratedAnswer{}
		}
		gen.Answer = opt
	}
	log.Debug("Generated answer", zap.Float64("confidence", gen.Confidence))
	return *gen
}

// autoTier uses the answer without review; the operator only decides whether
// it is saved.
func (r *Resolver) autoTier(ctx context.Context, q schemas.Question, gen schemas.GeneratedAnswer) (schemas.AnswerResult, error) {
	r.human.Notify(fmt.Sprintf("Answering %q with %q (confidence %.2f)", q.Text, gen.Answer, gen.Confidence))
	save, err := r.human.Confirm(ctx, "Save this answer for future questions?", true)
	if err != nil {
		return schemas.AnswerResult{}, err
	}
	res := schemas.AnswerResult{Answer: gen.Answer, Confidence: gen.Confidence, Provenance: schemas.ProvenanceGenerated}
	if save {
		res.Persisted = r.persist(ctx, q, res)
	}
	return res, nil
}

// suggestTier shows the suggestion; the operator approves it or supplies a
// replacement.
func (r *Resolver) suggestTier(ctx context.Context, q schemas.Question, gen schemas.GeneratedAnswer) (schemas.AnswerResult, error) {
	ok, err := r.human.Confirm(ctx, fmt.Sprintf("%s\nSuggested answer (confidence %.2f): %s\nUse it?", q.Text, gen.Confidence, gen.Answer), true)
	if err != nil {
		return schemas.AnswerResult{}, err
	}
	res := schemas.AnswerResult{Answer: gen.Answer, Confidence: gen.Confidence, Provenance: schemas.ProvenanceGenerated}
	if !ok {
		answer, err := r.askHuman(ctx, q)
		if err != nil {
			return schemas.AnswerResult{}, err
		}
		res = schemas.AnswerResult{Answer: answer, Confidence: 1.0, Provenance: schemas.ProvenanceHuman}
	}
	res.Persisted = r.persist(ctx, q, res)
	return res, nil
}

func (r *Resolver) askTier(ctx context.Context, q schemas.Question) (schemas.AnswerResult, error) {
	answer, err := r.askHuman(ctx, q)
	if err != nil {
		return schemas.AnswerResult{}, err
	}
	res := schemas.AnswerResult{Answer: answer, Confidence: 1.0, Provenance: schemas.ProvenanceHuman}
	res.Persisted = r.persist(ctx, q, res)
	return res, nil
}

// askHuman shapes the prompt by question kind.
func (r *Resolver) askHuman(ctx context.Context, q schemas.Question) (string, error) {
	switch {
	case len(q.Options) > 0:
		return r.human.Choose(ctx, q.Text, q.Options)
	case q.Kind == schemas.QuestionCheckbox:
		yes, err := r.human.Confirm(ctx, q.Text, false)
		if err != nil {
			return "", err
		}
		if yes {
			return "yes", nil
		}
		return "no", nil
	default:
		return r.human.Ask(ctx, q.Text)
	}
}

// persist saves res and reports whether it was stored.
func (r *Resolver) persist(ctx context.Context, q schemas.Question, res schemas.AnswerResult) bool {
	if r.repo == nil {
		return false
	}
	err := r.repo.Save(ctx, store.Answer{
		Question:   q.Text,
		Answer:     res.Answer,
		Provenance: res.Provenance,
		Confidence: res.Confidence,
	})
	if err != nil {
		r.logger.Warn("Failed to persist answer", zap.String("question", q.Text), zap.Error(err))
		return false
	}
	return true
}

func matchOption(answer string, options []string) (string, bool) {
	for _, opt := range options {
		if strings.EqualFold(strings.TrimSpace(opt), answer) {
			return opt, true
		}
	}
	return "", false
}
