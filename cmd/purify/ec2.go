// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/grailbio/base/config"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/purify/visconfig"

	// Brought in so that the written profile shows all defaults.
	_ "github.com/grailbio/base/config/aws"
)

// ec2API is the subset of the EC2 API used to set up a security group.
type ec2API interface {
	DescribeSecurityGroups(*ec2.DescribeSecurityGroupsInput) (*ec2.DescribeSecurityGroupsOutput, error)
	DescribeVpcs(*ec2.DescribeVpcsInput) (*ec2.DescribeVpcsOutput, error)
	CreateSecurityGroup(*ec2.CreateSecurityGroupInput) (*ec2.CreateSecurityGroupOutput, error)
	AuthorizeSecurityGroupIngress(*ec2.AuthorizeSecurityGroupIngressInput) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
	CreateTags(*ec2.CreateTagsInput) (*ec2.CreateTagsOutput, error)
}

func setupEC2(args []string) error {
	var (
		flags         = flag.NewFlagSet("setup-ec2", flag.ExitOnError)
		securityGroup = flags.String("securitygroup", "purify", "name of the security group to set up")
		instance      = flags.String("instance", "c5.2xlarge", "EC2 instance type of each rank")
	)
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, `usage: purify setup-ec2 [-securitygroup name] [-instance type]

Command setup-ec2 sets up a security group so that ranks can run on
AWS EC2 bigmachines, and writes the resulting configuration to `, visconfig.Path, `.
An existing configuration file is modified in place; an existing
security group of the same name is reused.

The security group allows all traffic within the default VPC,
inbound SSH and inbound HTTPS connections.

The flags are:
`)
		flags.PrintDefaults()
		os.Exit(2)
	}
	must.Nil(flags.Parse(args))
	if flags.NArg() != 0 {
		flags.Usage()
	}

	profile := config.New()
	f, err := os.Open(visconfig.Path)
	if err == nil {
		err = profile.Parse(f)
		f.Close()
		if err != nil {
			return errors.E(err, fmt.Sprintf("parse %s", visconfig.Path))
		}
	} else if !os.IsNotExist(err) {
		return err
	}
	var groupID string
	if v, ok := profile.Get("bigmachine/ec2system.security-group"); ok && v != `""` {
		log.Printf("ec2 security group %s already configured", v)
	} else {
		sess, err := session.NewSession()
		if err != nil {
			return errors.E(err, "setting up AWS session")
		}
		if groupID, err = securityGroupID(ec2.New(sess), *securityGroup); err != nil {
			return err
		}
	}
	if err := configureEC2(profile, groupID, *instance); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := profile.PrintTo(&buf); err != nil {
		return err
	}
	tmp := visconfig.Path + ".setup-ec2"
	if err := os.MkdirAll(filepath.Dir(visconfig.Path), 0777); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, buf.Bytes(), 0666); err != nil {
		return err
	}
	if err := os.Rename(tmp, visconfig.Path); err != nil {
		return err
	}
	log.Printf("wrote configuration to %s", visconfig.Path)
	return nil
}

// configureEC2 points the purify instance of profile at ec2system
// bigmachines of the given instance type. A non-empty groupID sets
// the security group.
func configureEC2(profile *config.Profile, groupID, instance string) error {
	if groupID != "" {
		if err := profile.Set("bigmachine/ec2system.security-group", groupID); err != nil {
			return err
		}
	}
	if err := profile.Set("purify.system", "bigmachine/ec2system"); err != nil {
		return err
	}
	return profile.Set("bigmachine/ec2system.instance", instance)
}

// securityGroupID returns the identifier of the security group with
// the given name, creating it in the default VPC if it does not exist.
func securityGroupID(svc ec2API, name string) (string, error) {
	describe, err := svc.DescribeSecurityGroups(&ec2.DescribeSecurityGroupsInput{
		Filters: []*ec2.Filter{{
			Name:   aws.String("group-name"),
			Values: []*string{aws.String(name)},
		}},
	})
	if err != nil {
		return "", errors.E(errors.Unavailable, err, fmt.Sprintf("query security group %s", name))
	}
	if len(describe.SecurityGroups) > 0 {
		id := aws.StringValue(describe.SecurityGroups[0].GroupId)
		log.Printf("found existing security group %s", id)
		return id, nil
	}
	vpcs, err := svc.DescribeVpcs(&ec2.DescribeVpcsInput{
		Filters: []*ec2.Filter{{
			Name:   aws.String("isDefault"),
			Values: []*string{aws.String("true")},
		}},
	})
	if err != nil {
		return "", errors.E(errors.Unavailable, err, "retrieve default VPC")
	}
	if n := len(vpcs.Vpcs); n != 1 {
		return "", errors.E(errors.Invalid, fmt.Sprintf("AWS account has %d default VPCs; needs manual setup", n))
	}
	vpc := vpcs.Vpcs[0]
	log.Printf("creating security group %s in default VPC %s", name, aws.StringValue(vpc.VpcId))
	created, err := svc.CreateSecurityGroup(&ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(name),
		Description: aws.String("security group created by purify setup-ec2"),
		VpcId:       vpc.VpcId,
	})
	if err != nil {
		return "", errors.E(err, fmt.Sprintf("create security group %s", name))
	}
	id := aws.StringValue(created.GroupId)
	_, err = svc.AuthorizeSecurityGroupIngress(&ec2.AuthorizeSecurityGroupIngressInput{
		GroupName: aws.String(name),
		IpPermissions: []*ec2.IpPermission{
			// Ranks exchange messages within the VPC.
			{
				IpProtocol: aws.String("-1"),
				IpRanges:   []*ec2.IpRange{{CidrIp: vpc.CidrBlock}},
				FromPort:   aws.Int64(0),
				ToPort:     aws.Int64(0),
			},
			ingress(22),
			// Bigmachine serves over HTTPS.
			ingress(443),
		},
	})
	if err != nil {
		return "", errors.E(err, fmt.Sprintf("authorize ingress for security group %s", id))
	}
	_, err = svc.CreateTags(&ec2.CreateTagsInput{
		Resources: []*string{aws.String(id)},
		Tags:      []*ec2.Tag{{Key: aws.String("Name"), Value: aws.String(name)}},
	})
	if err != nil {
		log.Error.Printf("tag security group %s: %v", id, err)
	}
	log.Printf("created security group %s", id)
	return id, nil
}

func ingress(port int64) *ec2.IpPermission {
	return &ec2.IpPermission{
		IpProtocol: aws.String("tcp"),
		IpRanges:   []*ec2.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
		FromPort:   aws.Int64(port),
		ToPort:     aws.Int64(port),
	}
}
