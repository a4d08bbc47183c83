// Package topics holds the subscription set of a bus client and decides which
// inbound topics it accepts. Matching is exact; there are no wildcards.
package topics
