// Package domain contains the shared entity types for the fitment
// marketing pipeline: page views, derived vehicle signals, visitor
// profiles, campaigns, targets and outbound messages.
//
// Types here are plain data; behavior lives in the service packages.
package domain
