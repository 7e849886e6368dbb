package core

import "time"

// Project is a tenant namespace. Tables and materialized views are scoped to it.
type Project struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
