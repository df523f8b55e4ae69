// Package llm defines the provider-agnostic model-invocation capability:
// chat request/response types, a unified error taxonomy, and the Provider
// interface consumed by every conversational agent.
//
// The orchestration core never talks to a vendor SDK directly. Agents build
// a ChatRequest, hand it to a Provider, and interpret the structured result;
// swapping providers is a wiring change in cmd/, not a core change.
package llm
