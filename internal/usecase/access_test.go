package usecase

import (
	"context"
	"errors"
	"testing"

	"auditchain/internal/domain"
)

type policyStub struct {
	decision domain.AccessDecision
	err      error
	last     domain.AccessInput
}

func (p *policyStub) Evaluate(ctx context.Context, input domain.AccessInput) (domain.AccessDecision, error) {
	p.last = input
	return p.decision, p.err
}

func TestAccessControl_PassesLineageToPolicy(t *testing.T) {
	policy := &policyStub{decision: domain.AccessDecision{Allow: true}}
	access := NewAccessControl(policy, NewScopeService(hierarchy(), nil, nil, 0, nil))

	principal := domain.Principal{Subject: "svc-dues", Roles: []string{"service"}, Scopes: []string{"union-3"}}
	if err := access.Require(context.Background(), principal, "local-12", domain.PermissionAppend); err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
	if policy.last.Permission != domain.PermissionAppend || policy.last.Scope.ID != "local-12" {
		t.Fatalf("unexpected policy input %+v", policy.last)
	}
	if len(policy.last.Scope.Lineage) != 4 || policy.last.Scope.Lineage[2] != "fed-1" {
		t.Fatalf("unexpected lineage %v", policy.last.Scope.Lineage)
	}
}

func TestAccessControl_DenyCarriesCode(t *testing.T) {
	policy := &policyStub{decision: domain.AccessDecision{Deny: []string{"SCOPE_MISMATCH"}}}
	access := NewAccessControl(policy, nil)

	err := access.Require(context.Background(), domain.Principal{Subject: "u"}, "org-1", domain.PermissionRead)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	authzErr, ok := IsAuthzError(err)
	if !ok || authzErr.Code != "SCOPE_MISMATCH" {
		t.Fatalf("expected SCOPE_MISMATCH, got %v", err)
	}
	if policy.last.Principal.Roles == nil || policy.last.Principal.Scopes == nil {
		t.Fatal("expected empty slices rather than nil in policy input")
	}
}

func TestAccessControl_RequiresSubject(t *testing.T) {
	access := NewAccessControl(&policyStub{decision: domain.AccessDecision{Allow: true}}, nil)
	err := access.Require(context.Background(), domain.Principal{}, "org-1", domain.PermissionRead)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAccessControl_PolicyErrorIsNotForbidden(t *testing.T) {
	access := NewAccessControl(&policyStub{err: errors.New("rego blew up")}, nil)
	err := access.Require(context.Background(), domain.Principal{Subject: "u"}, "org-1", domain.PermissionRead)
	if err == nil || errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected plain evaluation error, got %v", err)
	}
}
