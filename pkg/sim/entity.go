package sim

// Entity is a placed object or resource deposit in the world.
type Entity struct {
	Name      string    `json:"name"`
	Position  Position  `json:"position"`
	Direction Direction `json:"direction"`
	Status    string    `json:"status,omitempty"` // e.g. "working", "no_power"
	Amount    int       `json:"amount,omitempty"` // remaining units for resource deposits
}

// Stack is a quantity of one item kind.
type Stack struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

// Inventory maps item names to counts. Zero-count entries are removed.
type Inventory map[string]int

func (inv Inventory) Count(item string) int {
	return inv[item]
}

func (inv Inventory) Add(item string, n int) {
	if n <= 0 {
		return
	}
	inv[item] = inv[item] + n
}

// Take removes n of item, reporting false without mutating when the
// inventory holds fewer than n.
func (inv Inventory) Take(item string, n int) bool {
	if n <= 0 {
		return true
	}
	have := inv[item]
	if have < n {
		return false
	}
	if have == n {
		delete(inv, item)
	} else {
		inv[item] = have - n
	}
	return true
}

func (inv Inventory) Clone() Inventory {
	out := make(Inventory, len(inv))
	for k, v := range inv {
		out[k] = v
	}
	return out
}
