// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main provides build targets for the shelf project using Mage.
//
// Usage:
//
//	mage build             Compile the shelf binary to bin/
//	mage test:all          Run all tests (unit and integration)
//	mage test:unit         Run only unit tests (exclude tests/)
//	mage test:integration  Run only integration tests (builds first)
//	mage test:postgres     Run the Postgres backend tests in a container
//	mage test:cover        Write coverage to bin/coverage.out
//	mage lint              Run golangci-lint
//	mage clean             Remove build artifacts
//	mage install           Install shelf to GOPATH/bin
//	mage stats             Print Go LOC and documentation word counts
package main

const (
	binGo      = "go"
	binaryName = "shelf"
	binaryDir  = "bin"
	cmdDir     = "./cmd/shelf"
	versionVar = "github.com/mesh-intelligence/shelf/internal/cli.Version"
)
