package models

type Organization struct {
	BaseModel
	Name             string            `json:"name" gorm:"type:varchar(255);not null"`
	Users            []User            `json:"-" gorm:"foreignKey:OrganizationID"`
	Invitations      []Invitation      `json:"-" gorm:"foreignKey:OrganizationID"`
	WebhookEndpoints []WebhookEndpoint `json:"-" gorm:"foreignKey:OrganizationID"`
}
