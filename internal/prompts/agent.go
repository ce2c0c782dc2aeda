package prompts

// ToolLoopExhaustedFallback is the answer returned when the model is
// still requesting tools after the configured number of rounds.
const ToolLoopExhaustedFallback = "Sorry, I got a bit tangled up looking into that. Could you rephrase your question, or leave your email so I can follow up personally?"
