package mocks

//go:generate mockgen -source=../llm/provider.go -destination=./llm_provider_mock.go -package=mocks

// This file contains go:generate directives for creating mocks
// The hand-written doubles live in separate files
