package cache

import (
	"context"
	"strconv"

	"personachat/internal/models"
	"personachat/internal/store"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Personas wraps a PersonaStore with cache-aside reads. Concurrent misses for
// the same id collapse into one store query. A nil Cache disables caching but
// keeps the singleflight collapse.
type Personas struct {
	next    store.PersonaStore
	cache   Cache
	sfGroup singleflight.Group
}

func NewPersonas(next store.PersonaStore, c Cache) *Personas {
	return &Personas{next: next, cache: c}
}

func personaKey(id uint) string {
	return "persona:" + strconv.FormatUint(uint64(id), 10)
}

func (p *Personas) GetPersona(ctx context.Context, id uint) (*models.Persona, error) {
	key := personaKey(id)
	if p.cache != nil {
		var cached models.Persona
		found, err := p.cache.Get(ctx, key, &cached)
		if err != nil {
			// cache errors fall through to the store
			log.Warn().Err(err).Uint("persona_id", id).Msg("persona cache get")
		}
		if found {
			return &cached, nil
		}
	}

	val, err, _ := p.sfGroup.Do(key, func() (any, error) {
		persona, err := p.next.GetPersona(ctx, id)
		if err != nil {
			return nil, err
		}
		if p.cache != nil {
			if err := p.cache.Set(ctx, key, persona); err != nil {
				log.Warn().Err(err).Uint("persona_id", id).Msg("persona cache set")
			}
		}
		return persona, nil
	})
	if err != nil {
		return nil, err
	}
	persona := *val.(*models.Persona)
	return &persona, nil
}

// Invalidate drops a cached persona after it has been edited.
func (p *Personas) Invalidate(ctx context.Context, id uint) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Delete(ctx, personaKey(id)); err != nil {
		log.Warn().Err(err).Uint("persona_id", id).Msg("persona cache delete")
	}
}
