package cmd

import (
	"errors"

	"github.com/rostergate/rostergate/db"
	"github.com/rostergate/rostergate/db/factory"
	"github.com/rostergate/rostergate/pkg/phone"
	"github.com/rostergate/rostergate/pkg/retry"
	"github.com/rostergate/rostergate/pkg/token"
	"github.com/rostergate/rostergate/services/commands"
	"github.com/rostergate/rostergate/services/engine"
	"github.com/rostergate/rostergate/services/identity"
	"github.com/rostergate/rostergate/services/intent"
	"github.com/rostergate/rostergate/services/invitations"
	"github.com/rostergate/rostergate/services/permission"
	"github.com/rostergate/rostergate/services/roster"
	"github.com/rostergate/rostergate/services/router"
	"github.com/rostergate/rostergate/util"
)

// app holds the services shared by the server and the admin commands.
type app struct {
	store       db.Store
	codec       *token.Codec
	phone       *phone.Normalizer
	roster      *roster.Service
	invitations *invitations.Service
	issuer      *invitations.Issuer
}

func newApp(cfg *util.ConfigType, botUsername string) (*app, error) {
	if cfg.TokenSecret == "" {
		return nil, errors.New("no token secret configured; generate one with `rostergate token secret`")
	}
	secret, err := cfg.TokenSecretBytes()
	if err != nil {
		return nil, err
	}
	codec, err := token.NewCodec(secret)
	if err != nil {
		return nil, err
	}

	store, err := factory.CreateStore(cfg)
	if err != nil {
		return nil, err
	}
	store = db.WithTimeout(store, cfg.StoreTimeout)

	normalizer := phone.NewNormalizer(cfg.PhoneRegion)
	inviteSvc := invitations.NewService(store)

	return &app{
		store:       store,
		codec:       codec,
		phone:       normalizer,
		roster:      roster.NewService(store, normalizer),
		invitations: inviteSvc,
		issuer:      invitations.NewIssuer(inviteSvc, codec, botUsername, cfg.InviteTTL),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// router assembles the admission pipeline.
func (a *app) router(cfg *util.ConfigType, botUsername string) (*router.Router, error) {
	var eng commands.Engine
	if cfg.Engine.URL != "" {
		eng = engine.NewClient(cfg.Engine.URL, cfg.Engine.Token, cfg.Engine.Timeout)
	}

	reg, err := commands.Build(commands.Deps{
		Roster:      a.roster,
		Invitations: a.invitations,
		Issuer:      a.issuer,
		Phone:       a.phone,
		Engine:      eng,
	})
	if err != nil {
		return nil, err
	}

	var classifier intent.Classifier
	if cfg.Classifier.URL != "" {
		classifier = intent.NewHTTPClassifier(cfg.Classifier.URL, cfg.Classifier.Timeout, cfg.Classifier.LabelPath, cfg.Classifier.ConfidencePath)
	}

	return router.NewRouter(
		reg,
		intent.NewNormalizer(reg, classifier, intent.DefaultLabelTable(cfg.Classifier.Threshold), botUsername),
		identity.NewResolver(a.roster, a.invitations, a.codec),
		permission.NewResolver(a.roster, permission.WithSystemIdentities(cfg.SystemIdentities...)),
		router.Config{
			DispatchTimeout: cfg.DispatchTimeout,
			Retry:           retry.Once(nil),
		},
	)
}
