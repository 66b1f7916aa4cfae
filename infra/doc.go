// Package infra holds the adapters behind core interfaces: MQTT route
// publishing and driver events, routing matrix clients, advisor providers,
// driver target stores and metrics exporters. Core packages never import
// infra; adapters register themselves with the core factories.
package infra
