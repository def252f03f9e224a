package sqlite

import "github.com/MrSnakeDoc/hubcache/internal/domain"

// serviceRow is the table layout of a stored service.
// (username, name) is unique; alias is unique when present (NULLs never collide).
type serviceRow struct {
	ID            uint    `gorm:"primaryKey"`
	ServiceUUID   string  `gorm:"type:TEXT NOT NULL;index"`
	Name          string  `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_service_owner_name,priority:2"`
	Alias         *string `gorm:"type:TEXT;uniqueIndex:ux_service_alias"`
	Username      string  `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_service_owner_name,priority:1"`
	Description   string  `gorm:"type:TEXT"`
	Certified     bool    `gorm:"type:BOOLEAN NOT NULL"`
	Public        bool    `gorm:"type:BOOLEAN NOT NULL"`
	Topics        string  `gorm:"type:TEXT"`
	State         string  `gorm:"type:TEXT"`
	Configuration string  `gorm:"type:TEXT"`
	Readme        string  `gorm:"type:TEXT"`
	RawData       string  `gorm:"type:TEXT NOT NULL"`
}

func (serviceRow) TableName() string { return "service" }

func rowFromStored(s *domain.StoredService) serviceRow {
	row := serviceRow{
		ServiceUUID:   s.ServiceUUID,
		Name:          s.Name,
		Username:      s.Username,
		Description:   s.Description,
		Certified:     s.Certified,
		Public:        s.Public,
		Topics:        s.Topics,
		State:         string(s.State),
		Configuration: s.Configuration,
		Readme:        s.Readme,
		RawData:       s.RawData,
	}
	if s.Alias != "" {
		alias := s.Alias
		row.Alias = &alias
	}
	return row
}

func (r *serviceRow) toStored() *domain.StoredService {
	s := &domain.StoredService{
		ServiceUUID:   r.ServiceUUID,
		Name:          r.Name,
		Username:      r.Username,
		Description:   r.Description,
		Certified:     r.Certified,
		Public:        r.Public,
		Topics:        r.Topics,
		State:         domain.State(r.State),
		Configuration: r.Configuration,
		Readme:        r.Readme,
		RawData:       r.RawData,
	}
	if r.Alias != nil {
		s.Alias = *r.Alias
	}
	return s
}
