// Package harness runs scenario tests against the real engine.
//
// A scenario replays provider snapshots and contact changes through the
// engine on a fresh in-memory store, with a fake clock and sequential ids,
// then checks assertions against the stored records.
//
// # Scenario Format
//
//	name: birthday
//	description: "A birthday in the provider info is stored"
//	steps:
//	  - snapshot:
//	      accounts:
//	        - path: /acct/jabber/ann
//	          enabled: true
//	          ready: true
//	          has_roster: true
//	          contacts:
//	            - id: bob@example.com
//	  - change:
//	      account: /acct/jabber/ann
//	      contact: { id: bob@example.com, presence: { type: busy } }
//	  - advance: 300ms
//	  - flush: true
//	assertions:
//	  - type: contact_count
//	    count: 1
//	  - type: presence_state
//	    address: /acct/jabber/ann!bob@example.com
//	    state: busy
//
// A snapshot step is diffed against the previous one and the resulting
// events are enqueued; the first snapshot enqueues a full sync. A change
// step enqueues a single contact update. Its mask is derived from the
// previous observation of the contact unless given. Every step drains
// the queue before the next one runs.
//
// # Assertion Types
//
//   - contact_count: number of roster records, optionally for one account
//   - contact_state: subset match against a record's JSON form, or absent
//   - self_accounts: account paths carried by the self record
//   - presence_state: stored presence of one contact address
//   - log_contains: a substring of the engine's log output
//
// # Golden Files
//
// The store contents after the last step render to canonical JSON and
// can be compared against testdata/golden/<name>.golden.
package harness
