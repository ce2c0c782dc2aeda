// Package prompts contains the prompt text careerbot sends to models
// and the fixed answers it gives when the model cannot.
//
// Convention: each prompt category gets its own file with an exported
// function that accepts the dynamic parts and returns the fully
// interpolated prompt string.
package prompts
