// Package security defines the immutable session security policy and the
// pure decision logic that enforces it.
//
// A Policy is four independent sub-policies: module resource ceilings,
// script permissions, network access, and storage access. Evaluation
// functions are side-effect-free and return a Decision whose denial reasons
// name the exact dimension that failed ("memory limit exceeds sandbox
// limit", "import %q not permitted by policy"), never a generic denial.
// Requests exceeding a ceiling are denied, never clamped.
//
// Both the sandbox runtime (module admission) and the DOM surface (element
// and capability gating) consult this package; neither mutates a policy
// after session creation.
package security
