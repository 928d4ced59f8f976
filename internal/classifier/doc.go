// Package classifier assigns each document exactly one taxonomy label.
//
// Classification is a pure function of the canonical path and content:
//
//  1. path rules, in the order of the rule table
//  2. keyword rules, in the same order
//  3. the trained naive Bayes fallback, when installed and confident enough
//  4. otherwise types.LabelUnknown
//
// The first matching rule wins, so the order of Rules is part of the
// contract. Training happens off the ingestion path via Train and the result
// is installed with SetModel; without a model the classifier is rule-only.
package classifier
