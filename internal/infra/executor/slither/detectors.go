package slither

// Detector describes one analyzer check, mirroring the fields slither prints
// for --list-detectors.
type Detector struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Impact      string `json:"impact"`
	Confidence  string `json:"confidence"`
	Category    string `json:"category"`
}

// Catalog order groups by impact, highest first, matching how the analyzer
// lists its checks.
var catalog = []Detector{
	{"reentrancy-eth", "Reentrancy vulnerabilities (theft of ethers)", "High", "Medium", "reentrancy"},
	{"arbitrary-send-eth", "Functions that send Ether to arbitrary destinations", "High", "Medium", "access-control"},
	{"suicidal", "Functions allowing anyone to destruct the contract", "High", "High", "access-control"},
	{"unprotected-upgrade", "Unprotected upgradeable contract", "High", "High", "upgradeability"},
	{"uninitialized-state", "Uninitialized state variables", "High", "High", "uninitialized"},
	{"uninitialized-storage", "Uninitialized storage variables", "High", "High", "uninitialized"},
	{"controlled-delegatecall", "Controlled delegatecall destination", "High", "Medium", "delegatecall"},
	{"unchecked-transfer", "Unchecked token transfer", "High", "Medium", "unchecked-calls"},
	{"weak-prng", "Weak PRNG", "High", "Medium", "randomness"},
	{"reentrancy-no-eth", "Reentrancy vulnerabilities (no theft of ethers)", "Medium", "Medium", "reentrancy"},
	{"divide-before-multiply", "Imprecise arithmetic operations order", "Medium", "Medium", "arithmetic"},
	{"incorrect-equality", "Dangerous strict equalities", "Medium", "High", "arithmetic"},
	{"locked-ether", "Contracts that lock ether", "Medium", "High", "ether-handling"},
	{"tx-origin", "Dangerous usage of tx.origin", "Medium", "Medium", "authentication"},
	{"unchecked-lowlevel", "Unchecked low-level calls", "Medium", "Medium", "unchecked-calls"},
	{"unchecked-send", "Unchecked send", "Medium", "Medium", "unchecked-calls"},
	{"reentrancy-benign", "Benign reentrancy vulnerabilities", "Low", "Medium", "reentrancy"},
	{"reentrancy-events", "Reentrancy vulnerabilities leading to out-of-order events", "Low", "Medium", "reentrancy"},
	{"timestamp", "Dangerous usage of block.timestamp", "Low", "Medium", "block-attributes"},
	{"missing-zero-check", "Missing zero address validation", "Low", "Medium", "validation"},
	{"assembly", "Assembly usage", "Informational", "High", "code-quality"},
	{"low-level-calls", "Low-level calls", "Informational", "High", "code-quality"},
	{"naming-convention", "Conformity to Solidity naming conventions", "Informational", "High", "code-quality"},
	{"pragma", "Different pragma directives are used", "Informational", "High", "solidity-version"},
	{"solc-version", "Incorrect Solidity version", "Informational", "High", "solidity-version"},
}

// Detectors returns the supported checks in catalog order.
func Detectors() []Detector {
	return append([]Detector(nil), catalog...)
}

// Categories returns the distinct detector categories, ordered by first
// appearance in the catalog.
func Categories() []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range catalog {
		if !seen[d.Category] {
			seen[d.Category] = true
			out = append(out, d.Category)
		}
	}
	return out
}
