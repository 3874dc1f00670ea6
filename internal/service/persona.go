package service

import (
	"context"
	"errors"

	"personachat/internal/models"
	"personachat/internal/store"

	"gorm.io/gorm"
)

// PersonaReader 是带缓存的人设读取，由 cache.Personas 实现。
type PersonaReader interface {
	store.PersonaStore
	Invalidate(ctx context.Context, id uint)
}

// PersonaService 封装人设的增删查。
type PersonaService struct {
	db       *gorm.DB
	personas PersonaReader
}

func NewPersonaService(db *gorm.DB, personas PersonaReader) *PersonaService {
	return &PersonaService{db: db, personas: personas}
}

// PersonaDTO 是对外输出的人设数据。
type PersonaDTO struct {
	ID           uint   `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	SamplePrompt string `json:"samplePrompt,omitempty"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
	IsDefault    bool   `json:"isDefault"`
	CreatedBy    *uint  `json:"createdBy,omitempty"`
}

func personaDTO(p models.Persona) PersonaDTO {
	return PersonaDTO{
		ID:           p.ID,
		Name:         p.Name,
		Description:  p.Description,
		SamplePrompt: p.SamplePrompt,
		AvatarURL:    p.AvatarURL,
		IsDefault:    p.IsDefault,
		CreatedBy:    p.CreatedBy,
	}
}

// PersonaInput 是创建人设的请求参数。
type PersonaInput struct {
	Name         string
	Description  string
	SamplePrompt string
	AvatarURL    string
}

// List 返回内置人设在前、其余按创建顺序排列的人设列表。
func (s *PersonaService) List(ctx context.Context) ([]PersonaDTO, error) {
	var personas []models.Persona
	if err := s.db.WithContext(ctx).Order("is_default desc").Order("id asc").Find(&personas).Error; err != nil {
		return nil, err
	}
	out := make([]PersonaDTO, 0, len(personas))
	for _, p := range personas {
		out = append(out, personaDTO(p))
	}
	return out, nil
}

// Get 经缓存读取单个人设。
func (s *PersonaService) Get(ctx context.Context, id uint) (*PersonaDTO, error) {
	p, err := s.personas.GetPersona(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrPersonaNotFound) {
			return nil, ErrPersonaNotFound
		}
		return nil, err
	}
	out := personaDTO(*p)
	return &out, nil
}

// Create 创建用户自定义人设。
func (s *PersonaService) Create(ctx context.Context, in PersonaInput, creatorID uint) (*PersonaDTO, error) {
	p := models.Persona{
		Name:         in.Name,
		Description:  in.Description,
		SamplePrompt: in.SamplePrompt,
		AvatarURL:    in.AvatarURL,
		CreatedBy:    &creatorID,
	}
	if err := s.db.WithContext(ctx).Create(&p).Error; err != nil {
		return nil, err
	}
	out := personaDTO(p)
	return &out, nil
}

// Delete 删除自定义人设，只有创建者可以删除，内置人设不可删除。
func (s *PersonaService) Delete(ctx context.Context, id, userID uint) error {
	var p models.Persona
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPersonaNotFound
		}
		return err
	}
	if p.IsDefault || p.CreatedBy == nil || *p.CreatedBy != userID {
		return ErrForbidden
	}
	if err := s.db.WithContext(ctx).Delete(&models.Persona{}, id).Error; err != nil {
		return err
	}
	s.personas.Invalidate(ctx, id)
	return nil
}
