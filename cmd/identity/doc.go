// Package identity owns the principals that can authenticate: account holders
// and the inspectors they provision.
//
// A Principal is a closed variant (Account | Inspector). The two kinds live in
// disjoint namespaces; FindPrincipalByEmail resolves an email over both in a
// fixed order, and stores refuse to create an email that already exists in
// either namespace.
package identity
