// Package harness runs declarative scenarios against a fresh Freezer
// store and asserts on the resulting snapshot and change batches.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	attributes:
//	  - name: shopping_cart/item
//	    type: string
//	    collection: true
//	steps:
//	  - add: { attribute: shopping_cart/item, entity: cart-1, value: { kind: string, string: widget } }
//	  - nested:
//	      steps:
//	        - add: { attribute: shopping_cart/item, entity: cart-1, value: { kind: string, string: gadget } }
//	      fail: false
//	expect_snapshot:
//	  entity: cart-1
//	  attributes:
//	    shopping_cart/item:
//	      collection: true
//	      values:
//	        - { kind: string, string: widget }
//	        - { kind: string, string: gadget }
//	expect_batches:
//	  - changes:
//	      - { type: add, entity: cart-1, attribute: shopping_cart/item }
//	  - changes:
//	      - { type: add, entity: cart-1, attribute: shopping_cart/item }
//
// # Determinism
//
// Every scenario runs against its own private in-memory store
// (OpenInMemory), so scenarios never share state. Transaction-record
// timestamps are never part of an expectation, so no fixed clock is
// required for scenario comparison. A collection attribute's resolved
// member order is not stable across runs (snapshot resolution groups
// members via a Go map), which is why expect_snapshot compares a
// collection's values as a set rather than an ordered list.
package harness
