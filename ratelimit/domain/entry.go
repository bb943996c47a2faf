package domain

import (
	"fmt"
	"time"
)

// Entry é a mensagem universal entre os componentes: um único fato de quota
// ou uma única observação. Valor imutável; mutações passam por Update, que
// revalida.
//
// Ausência é representada pelo zero value: Endpoint == "", WindowSec == 0,
// RequestTime.IsZero(), etc. LimitType vazio só é válido na entrada
// sintética de blind request (política ainda desconhecida).
type Entry struct {
	Routing     Routing
	Endpoint    string
	LimitType   LimitType
	WindowSec   int
	CountLimit  int
	Count       int
	RequestTime time.Time
	RetryAfter  int
	TTL         int
	AdjustedTTL int
	Source      Source
}

// NewEntry valida e devolve a entrada. Dados do upstream que quebram as
// invariantes são bug de protocolo e devem estourar aqui, não ser
// normalizados em silêncio.
func NewEntry(e Entry) (Entry, error) {
	if err := e.validate(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Update aplica a mutação e revalida o resultado.
func (e Entry) Update(apply func(*Entry)) (Entry, error) {
	out := e
	apply(&out)
	if err := out.validate(); err != nil {
		return Entry{}, err
	}
	return out, nil
}

func (e Entry) validate() error {
	if !e.Routing.Valid() {
		return fmt.Errorf("%w: routing %q", ErrInvariant, string(e.Routing))
	}
	switch e.Source {
	case SourceHeaders, SourcePolicy, SourceLive, SourceCooldown:
	default:
		return fmt.Errorf("%w: source %q", ErrInvariant, string(e.Source))
	}
	switch e.LimitType {
	case LimitApplication, LimitMethod, LimitService:
	case "":
		// só as entradas sintéticas ficam sem escopo: blind request
		// (policy) e "nenhum cooldown ativo" (cooldown)
		if e.Source != SourcePolicy && e.Source != SourceCooldown {
			return fmt.Errorf("%w: missing limit type (source %q)", ErrInvariant, string(e.Source))
		}
	default:
		return fmt.Errorf("%w: limit type %q", ErrInvariant, string(e.LimitType))
	}
	if e.WindowSec < 0 || e.CountLimit < 0 || e.Count < 0 ||
		e.RetryAfter < 0 || e.TTL < 0 || e.AdjustedTTL < 0 {
		return fmt.Errorf("%w: negative numeric field", ErrInvariant)
	}

	switch e.Source {
	case SourcePolicy:
		// fatos de política carregam janela e teto; service não tem
		// representação de política (só cooldown)
		if e.LimitType == LimitService {
			return fmt.Errorf("%w: service scope has no policy", ErrInvariant)
		}
		if e.LimitType != "" && (e.WindowSec == 0 || e.CountLimit == 0) {
			return fmt.Errorf("%w: policy entry missing window or limit", ErrInvariant)
		}
	case SourceLive:
		// CountLimit 0 é legítimo aqui: chave de política ausente vira
		// limite 0 no script (sistema sem bootstrap nega tudo)
		if e.WindowSec == 0 {
			return fmt.Errorf("%w: live entry missing window", ErrInvariant)
		}
		if e.LimitType == LimitService {
			return fmt.Errorf("%w: service scope has no live counter", ErrInvariant)
		}
	case SourceCooldown:
		if e.LimitType == LimitMethod && e.Endpoint == "" {
			return fmt.Errorf("%w: method cooldown without endpoint", ErrInvariant)
		}
	}
	return nil
}

// Window devolve a duração da janela.
func (e Entry) Window() time.Duration {
	return time.Duration(e.WindowSec) * time.Second
}
