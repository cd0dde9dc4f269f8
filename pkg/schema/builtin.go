package schema

// Service names of the two remote services fronted by this module.
const (
	ServiceAccess    = "access"
	ServiceInventory = "inventory"
)

// Named returns a copy of t carrying a declared name.
func Named(name string, t *Type) *Type {
	c := *t
	c.Name = name
	return &c
}

// ItemType is the inventory Item record.
func ItemType() *Type {
	return Named("Item", Record(
		F("id", Nat),
		F("name", Text),
		F("addedBy", Principal),
		F("quantity", Nat),
	))
}

// AccessService returns the access-control contract.
func AccessService() *ServiceDescriptor {
	return &ServiceDescriptor{
		Name:        ServiceAccess,
		Version:     "1.0.0",
		Description: "Access control: resource subscriptions per principal",
		Methods: []*MethodDescriptor{
			{
				Name:        "hasAccess",
				Args:        []*Type{Principal, Text},
				Results:     []*Type{Bool},
				Mode:        ModeQuery,
				Description: "Reports whether a principal is subscribed to a resource key",
			},
			{
				Name:        "subscribeUser",
				Args:        []*Type{Principal, Vec(Text)},
				Results:     []*Type{},
				Mode:        ModeUpdate,
				Description: "Subscribes a principal to a list of resource keys",
			},
		},
	}
}

// InventoryService returns the inventory contract.
func InventoryService() *ServiceDescriptor {
	item := ItemType()
	return &ServiceDescriptor{
		Name:        ServiceInventory,
		Version:     "1.0.0",
		Description: "Inventory of items added by principals",
		Types:       []*Type{item},
		Methods: []*MethodDescriptor{
			{
				Name:        "addItem",
				Args:        []*Type{Text, Nat},
				Results:     []*Type{Text},
				Mode:        ModeUpdate,
				Description: "Adds an item owned by the caller and returns its id as text",
			},
			{
				Name:        "editItem",
				Args:        []*Type{Nat, Text, Nat},
				Results:     []*Type{Text},
				Mode:        ModeUpdate,
				Description: "Renames an item and sets its quantity",
			},
			{
				Name:        "listItems",
				Args:        []*Type{},
				Results:     []*Type{Vec(item)},
				Mode:        ModeQuery,
				Description: "Lists all items in insertion order",
			},
		},
	}
}

// BuiltinServices returns fresh copies of both contracts.
func BuiltinServices() []*ServiceDescriptor {
	return []*ServiceDescriptor{AccessService(), InventoryService()}
}
