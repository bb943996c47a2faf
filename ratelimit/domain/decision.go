package domain

import (
	"fmt"
	"time"
)

// Decision é o resultado de uma admissão: permitir ou segurar, sempre
// acompanhado das entries que justificam.
type Decision struct {
	Allowed bool
	Entries []Entry
}

func Allow(entries ...Entry) Decision {
	return Decision{Allowed: true, Entries: entries}
}

func Throttle(entries ...Entry) Decision {
	return Decision{Allowed: false, Entries: entries}
}

// RetryIn devolve quanto esperar antes de tentar de novo, derivado da
// primeira entry com TTL. Zero significa "sem recomendação".
func (d Decision) RetryIn() time.Duration {
	if d.Allowed {
		return 0
	}
	for _, e := range d.Entries {
		if e.TTL > 0 {
			return time.Duration(e.TTL) * time.Second
		}
	}
	return 0
}

// ThrottledError é o erro que o cliente outbound devolve quando a admissão
// nega a chamada antes de ela sair.
type ThrottledError struct {
	Routing    Routing
	Endpoint   string
	Source     Source
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("throttled by %s limit for %s%s (retry in %s)",
		e.Source, e.Routing, e.Endpoint, e.RetryAfter)
}
