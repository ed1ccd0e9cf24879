package translator

type Outcome int

const (
	Cached Outcome = iota
	Translated
	NeedsRetry
	NeedsIndividual
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Cached:
		return "cached"
	case Translated:
		return "translated"
	case NeedsRetry:
		return "needs_retry"
	case NeedsIndividual:
		return "needs_individual"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further stage applies.
func (o Outcome) Terminal() bool {
	return o == Cached || o == Translated || o == Failed
}

type FailureReason int

const (
	NoFailure FailureReason = iota
	// Exhausted: the provider returned nothing usable for the key.
	Exhausted
	// Oversized: the retry was still far longer than the source.
	Oversized
	// Placeholder: tokens survived both restore passes.
	Placeholder
)

func (r FailureReason) String() string {
	switch r {
	case Exhausted:
		return "exhausted"
	case Oversized:
		return "oversized"
	case Placeholder:
		return "placeholder"
	default:
		return ""
	}
}

// Resolution is the state of one entry as it moves through the chain.
type Resolution struct {
	Outcome Outcome
	Value   string
	Reason  FailureReason
}

func resolved(v string) Resolution {
	return Resolution{Outcome: Translated, Value: v}
}

func failed(r FailureReason) Resolution {
	return Resolution{Outcome: Failed, Reason: r}
}
