package domain

import (
	"time"
)

type ResourceStatus string

const (
	ResourceAvailable ResourceStatus = "available"
	ResourceOccupied  ResourceStatus = "occupied"
)

// Resource is a table or room customers are seated at.
type Resource struct {
	ID           string         `json:"id" gorm:"primaryKey;type:char(36)"`
	Number       int            `json:"number" gorm:"uniqueIndex;not null"`
	AccessURL    string         `json:"accessUrl" gorm:"type:varchar(512)"`
	Code         []byte         `json:"code,omitempty" gorm:"type:mediumblob"`
	Status       ResourceStatus `json:"status" gorm:"type:varchar(16);not null;index"`
	AssignedUser *string        `json:"assignedUser" gorm:"type:varchar(64)"`
	CurrentOrder *string        `json:"currentOrder" gorm:"type:char(36)"`
	OrderHistory []string       `json:"orderHistory" gorm:"serializer:json;type:json"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

func (r *Resource) Occupy(userID string, now time.Time) {
	r.Status = ResourceOccupied
	r.AssignedUser = &userID
	r.UpdatedAt = now
}

func (r *Resource) Release(now time.Time) {
	r.Status = ResourceAvailable
	r.AssignedUser = nil
	r.CurrentOrder = nil
	r.UpdatedAt = now
}

func (r *Resource) LinkOrder(orderID string, now time.Time) {
	r.CurrentOrder = &orderID
	r.OrderHistory = append(r.OrderHistory, orderID)
	r.UpdatedAt = now
}

// SetCode replaces the access url and its encoded code together.
func (r *Resource) SetCode(url string, code []byte, now time.Time) {
	r.AccessURL = url
	r.Code = code
	r.UpdatedAt = now
}

func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	c := *r
	c.Code = append([]byte(nil), r.Code...)
	c.OrderHistory = append([]string(nil), r.OrderHistory...)
	if r.AssignedUser != nil {
		u := *r.AssignedUser
		c.AssignedUser = &u
	}
	if r.CurrentOrder != nil {
		o := *r.CurrentOrder
		c.CurrentOrder = &o
	}
	return &c
}

// Customer is the local copy of a customer known from the identity service.
// TableNumber caches the resource the customer is seated at.
type Customer struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Name        string    `json:"name" gorm:"type:varchar(255)"`
	Phone       string    `json:"phone" gorm:"type:varchar(32)"`
	Email       string    `json:"email,omitempty" gorm:"type:varchar(255)"`
	TableNumber *int      `json:"tableNumber,omitempty" gorm:"index"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (c *Customer) Clone() *Customer {
	if c == nil {
		return nil
	}
	cp := *c
	if c.TableNumber != nil {
		n := *c.TableNumber
		cp.TableNumber = &n
	}
	return &cp
}
