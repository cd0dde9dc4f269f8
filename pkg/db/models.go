package db

import "time"

// ServiceContract represents a row in the service_contracts table.
type ServiceContract struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description *string   `json:"description,omitempty"`
	Types       []byte    `json:"types,omitempty"`
	Revision    int       `json:"revision"`
	Created     time.Time `json:"created"`
	Modified    time.Time `json:"modified"`
}

// ContractMethod represents a row in the contract_methods table.
type ContractMethod struct {
	ID          string  `json:"id"`
	ContractID  string  `json:"contract_id"`
	Position    int     `json:"position"`
	Name        string  `json:"name"`
	Mode        string  `json:"mode"`
	Args        []byte  `json:"args"`
	Results     []byte  `json:"results"`
	Description *string `json:"description,omitempty"`
}
