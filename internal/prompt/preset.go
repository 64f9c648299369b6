package prompt

import "context"

// Prompter asks the operator questions.
type Prompter interface {
	Confirm(ctx context.Context, question string, def bool) (bool, error)
	Input(ctx context.Context, question, def string) (string, error)
}

// Preset answers questions with preconfigured values and forwards all other
// questions to a wrapped Prompter.
type Preset struct {
	Prompter Prompter
	// AssumeYes answers all confirmations with yes.
	AssumeYes bool
	// InputAnswer is returned for all Input questions, when it is
	// non-empty.
	InputAnswer string
}

func (p *Preset) Confirm(ctx context.Context, question string, def bool) (bool, error) {
	if p.AssumeYes {
		return true, nil
	}

	return p.Prompter.Confirm(ctx, question, def)
}

func (p *Preset) Input(ctx context.Context, question, def string) (string, error) {
	if p.InputAnswer != "" {
		return p.InputAnswer, nil
	}

	return p.Prompter.Input(ctx, question, def)
}
