package chat

// FarmerProfile describes the caller to the backend.
type FarmerProfile struct {
	Name           string  `json:"name"`
	Phone          string  `json:"phone"`
	LandAcres      float64 `json:"land_acres"`
	State          string  `json:"state"`
	Age            int     `json:"age"`
	HasKCC         bool    `json:"has_kcc"`
	HasBankAccount bool    `json:"has_bank_account"`
	AnnualIncome   int     `json:"annual_income"`
}

// DemoFarmer is the profile used when none is configured.
func DemoFarmer() FarmerProfile {
	return FarmerProfile{
		Name:           "Ramesh Kumar",
		Phone:          "+919876543210",
		LandAcres:      2,
		State:          "Karnataka",
		Age:            45,
		HasKCC:         false,
		HasBankAccount: true,
		AnnualIncome:   50000,
	}
}
